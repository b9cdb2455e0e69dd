package devices

// catalogDevices lists the top Android devices by market share, covering a
// spread of Android versions, screen sizes, and manufacturers.
var catalogDevices = []Device{
	{ID: "samsung_galaxy_s24", Name: "Samsung Galaxy S24", Manufacturer: "Samsung", AndroidVersion: "14", APILevel: 34, ScreenSize: `6.2"`, Resolution: "2340 x 1080", Popular: true},
	{ID: "samsung_galaxy_s23", Name: "Samsung Galaxy S23", Manufacturer: "Samsung", AndroidVersion: "13", APILevel: 33, ScreenSize: `6.1"`, Resolution: "2340 x 1080", Popular: true},
	{ID: "pixel_8_pro", Name: "Google Pixel 8 Pro", Manufacturer: "Google", AndroidVersion: "14", APILevel: 34, ScreenSize: `6.7"`, Resolution: "2992 x 1344", Popular: true},
	{ID: "pixel_7", Name: "Google Pixel 7", Manufacturer: "Google", AndroidVersion: "13", APILevel: 33, ScreenSize: `6.3"`, Resolution: "2400 x 1080", Popular: true},
	{ID: "oneplus_11", Name: "OnePlus 11", Manufacturer: "OnePlus", AndroidVersion: "13", APILevel: 33, ScreenSize: `6.7"`, Resolution: "3216 x 1440", Popular: true},
	{ID: "xiaomi_13_pro", Name: "Xiaomi 13 Pro", Manufacturer: "Xiaomi", AndroidVersion: "13", APILevel: 33, ScreenSize: `6.73"`, Resolution: "3200 x 1440", Popular: true},
	{ID: "samsung_galaxy_a54", Name: "Samsung Galaxy A54", Manufacturer: "Samsung", AndroidVersion: "13", APILevel: 33, ScreenSize: `6.4"`, Resolution: "2340 x 1080", Popular: true},
	{ID: "samsung_galaxy_note_20", Name: "Samsung Galaxy Note 20", Manufacturer: "Samsung", AndroidVersion: "12", APILevel: 31, ScreenSize: `6.7"`, Resolution: "2400 x 1080", Popular: false},
	{ID: "huawei_p50_pro", Name: "Huawei P50 Pro", Manufacturer: "Huawei", AndroidVersion: "11", APILevel: 30, ScreenSize: `6.6"`, Resolution: "2700 x 1228", Popular: false},
	{ID: "oppo_find_x5_pro", Name: "OPPO Find X5 Pro", Manufacturer: "OPPO", AndroidVersion: "12", APILevel: 31, ScreenSize: `6.7"`, Resolution: "3216 x 1440", Popular: false},
	{ID: "vivo_x80_pro", Name: "Vivo X80 Pro", Manufacturer: "Vivo", AndroidVersion: "12", APILevel: 31, ScreenSize: `6.78"`, Resolution: "3200 x 1440", Popular: false},
	{ID: "motorola_edge_30", Name: "Motorola Edge 30", Manufacturer: "Motorola", AndroidVersion: "12", APILevel: 31, ScreenSize: `6.5"`, Resolution: "2400 x 1080", Popular: false},
	{ID: "lg_wing", Name: "LG Wing", Manufacturer: "LG", AndroidVersion: "11", APILevel: 30, ScreenSize: `6.8"`, Resolution: "2460 x 1080", Popular: false},
	{ID: "samsung_galaxy_s22_ultra", Name: "Samsung Galaxy S22 Ultra", Manufacturer: "Samsung", AndroidVersion: "13", APILevel: 33, ScreenSize: `6.8"`, Resolution: "3088 x 1440", Popular: true},
	{ID: "pixel_6a", Name: "Google Pixel 6a", Manufacturer: "Google", AndroidVersion: "13", APILevel: 33, ScreenSize: `6.1"`, Resolution: "2400 x 1080", Popular: true},
	{ID: "nothing_phone_1", Name: "Nothing Phone (1)", Manufacturer: "Nothing", AndroidVersion: "12", APILevel: 31, ScreenSize: `6.55"`, Resolution: "2400 x 1080", Popular: false},
	{ID: "realme_gt_2_pro", Name: "Realme GT 2 Pro", Manufacturer: "Realme", AndroidVersion: "12", APILevel: 31, ScreenSize: `6.7"`, Resolution: "3216 x 1440", Popular: false},
	{ID: "sony_xperia_1_iv", Name: "Sony Xperia 1 IV", Manufacturer: "Sony", AndroidVersion: "12", APILevel: 31, ScreenSize: `6.5"`, Resolution: "3840 x 1644", Popular: false},
	{ID: "asus_rog_phone_6", Name: "ASUS ROG Phone 6", Manufacturer: "ASUS", AndroidVersion: "12", APILevel: 31, ScreenSize: `6.78"`, Resolution: "2448 x 1080", Popular: false},
	{ID: "fairphone_4", Name: "Fairphone 4", Manufacturer: "Fairphone", AndroidVersion: "11", APILevel: 30, ScreenSize: `6.3"`, Resolution: "2340 x 1080", Popular: false},
}

// providerCodes maps catalog ids to device-lab model codes. Ids absent from
// this table resolve to DefaultProviderCode.
var providerCodes = map[string]string{
	"samsung_galaxy_s24":       "sm-s908b",
	"samsung_galaxy_s23":       "sm-s911b",
	"pixel_8_pro":              "husky",
	"pixel_7":                  "panther",
	"samsung_galaxy_s22_ultra": "sm-s908b",
	"pixel_6a":                 "bluejay",
	"oneplus_11":               "phn110",
	"xiaomi_13_pro":            "2210132C",
	"samsung_galaxy_a54":       "sm-a546b",
}
