package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/mobiletester/mt-api/internal/domain/auth"
)

const sessionKeyPattern = "mt:session:*"

type sessionClearOptions struct {
	UserID string
	DryRun bool
	Yes    bool
}

func parseSessionClearFlags(args []string) (sessionClearOptions, error) {
	fs := flag.NewFlagSet("clear-sessions", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts sessionClearOptions
	fs.StringVar(&opts.UserID, "user-id", "", "Only clear sessions belonging to this user")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Print actions without executing")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return sessionClearOptions{}, err
	}

	opts.UserID = strings.TrimSpace(opts.UserID)
	return opts, nil
}

func runListSessions(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 2*time.Minute)
	defer cancel()

	_, redisClient, err := connectInfraWithOptions(&connectInfraOptions{
		Logger:    cmdCtx.Logger,
		Config:    &cmdCtx.Config,
		WantRedis: true,
	})
	if err != nil {
		return err
	}
	if redisClient == nil {
		if writeErr := writeln(os.Stderr, "Redis client is not available"); writeErr != nil {
			return fmt.Errorf("print redis availability: %w", writeErr)
		}
		return nil
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	cmdCtx.Logger.Info("scanning redis", "pattern", sessionKeyPattern)

	iter := redisClient.Scan(ctx, 0, sessionKeyPattern, 100).Iterator()
	if headerErr := writef(os.Stdout, "\nSessions in Redis\n"); headerErr != nil {
		return fmt.Errorf("print sessions header: %w", headerErr)
	}

	total, iterErr := writeSessionKeys(sessionScanInput{
		Ctx:    ctx,
		Iter:   iter,
		Client: redisClient,
		Logger: cmdCtx.Logger,
	})
	if iterErr != nil {
		return iterErr
	}

	if total == 0 {
		if nonePrintErr := writeln(os.Stdout, "(no sessions found)"); nonePrintErr != nil {
			return fmt.Errorf("print sessions none: %w", nonePrintErr)
		}
		return nil
	}

	if totalPrintErr := writef(os.Stdout, "\nTotal sessions: %d\n", total); totalPrintErr != nil {
		return fmt.Errorf("print sessions total: %w", totalPrintErr)
	}
	return nil
}

type sessionScanInput struct {
	Ctx    context.Context
	Iter   *redis.ScanIterator
	Client redis.UniversalClient
	Logger *slog.Logger
}

func writeSessionKeys(input sessionScanInput) (int, error) {
	if input.Iter == nil {
		return 0, errors.New("redis scan: nil iterator")
	}

	printer := sessionKeyPrinter{
		ctx:    input.Ctx,
		client: input.Client,
		logger: input.Logger,
	}

	total := 0
	for input.Iter.Next(input.Ctx) {
		key := input.Iter.Val()
		total++

		if err := printer.print(key); err != nil {
			return 0, err
		}
	}

	if err := input.Iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}

	return total, nil
}

type sessionKeyPrinter struct {
	ctx    context.Context
	client redis.UniversalClient
	logger *slog.Logger
}

func (p *sessionKeyPrinter) print(key string) error {
	if p == nil {
		return errors.New("session printer: nil receiver")
	}

	owner := sessionOwner(p.ctx, p.client, key)

	ttl, ttlErr := p.client.TTL(p.ctx, key).Result()
	if ttlErr != nil {
		if p.logger != nil {
			p.logger.ErrorContext(p.ctx, "failed to fetch TTL", "key", key, "error", ttlErr)
		}
		if printErr := writef(os.Stdout, "  %s  user=%s (TTL: error: %v)\n", key, owner, ttlErr); printErr != nil {
			return fmt.Errorf("print session key ttl error: %w", printErr)
		}
		return nil
	}

	if printErr := writef(os.Stdout, "  %s  user=%s (TTL: %s)\n", key, owner, renderTTL(ttl)); printErr != nil {
		return fmt.Errorf("print session key: %w", printErr)
	}
	return nil
}

// sessionOwner best-effort decodes the stored session to label the key with
// its user. Returns "?" when the payload cannot be read or parsed.
func sessionOwner(ctx context.Context, client redis.UniversalClient, key string) string {
	raw, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return "?"
	}
	var sess domainauth.Session
	if err := json.Unmarshal(raw, &sess); err != nil || sess.UserID == "" {
		return "?"
	}
	return sess.UserID
}

func runClearSessions(cmdCtx *commandContext, args []string) error {
	opts, err := parseSessionClearFlags(args)
	if err != nil {
		return err
	}

	if !opts.Yes && !opts.DryRun {
		scope := "all sessions"
		if opts.UserID != "" {
			scope = fmt.Sprintf("sessions for user %q", opts.UserID)
		}
		if confirmErr := requireConfirmation("clear " + scope + " from Redis"); confirmErr != nil {
			return confirmErr
		}
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 2*time.Minute)
	defer cancel()

	_, redisClient, err := connectInfraWithOptions(&connectInfraOptions{
		Logger:    cmdCtx.Logger,
		Config:    &cmdCtx.Config,
		WantRedis: true,
	})
	if err != nil {
		return err
	}
	if redisClient == nil {
		if writeErr := writeln(os.Stderr, "Redis client is not available"); writeErr != nil {
			return fmt.Errorf("print redis availability: %w", writeErr)
		}
		return nil
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	req := &sessionDeleteRequest{
		Ctx:      ctx,
		Logger:   cmdCtx.Logger,
		Redis:    redisClient,
		Options:  opts,
		BatchCap: 1000,
	}
	stats, err := deleteSessionKeys(req)
	if err != nil {
		return err
	}

	if stats.total == 0 {
		if writeErr := writeln(os.Stdout, "No sessions found in Redis"); writeErr != nil {
			return fmt.Errorf("print sessions summary: %w", writeErr)
		}
		return nil
	}

	if opts.DryRun {
		if writeErr := writef(os.Stdout, "Dry-run: would delete %d/%d sessions\n", stats.deleted, stats.total); writeErr != nil {
			return fmt.Errorf("print sessions dry run: %w", writeErr)
		}
		return nil
	}

	if writeErr := writef(os.Stdout, "Deleted %d/%d sessions\n", stats.deleted, stats.total); writeErr != nil {
		return fmt.Errorf("print sessions deleted: %w", writeErr)
	}
	if stats.failures > 0 {
		if writeErr := writef(os.Stdout, "Failed batches: %d\n", stats.failures); writeErr != nil {
			return fmt.Errorf("print sessions failures: %w", writeErr)
		}
	}
	return nil
}

type sessionDeleteRequest struct {
	Ctx      context.Context
	Logger   *slog.Logger
	Redis    redis.UniversalClient
	Options  sessionClearOptions
	BatchCap int
}

type sessionDeleteStats struct {
	total    int
	deleted  int64
	failures int
}

func deleteSessionKeys(req *sessionDeleteRequest) (sessionDeleteStats, error) {
	batchCap := req.BatchCap
	if batchCap <= 0 {
		batchCap = 1000
	}

	if req.Logger != nil {
		req.Logger.Info("scanning redis", "pattern", sessionKeyPattern, "dry_run", req.Options.DryRun)
	}

	stats := sessionDeleteStats{}
	iter := req.Redis.Scan(req.Ctx, 0, sessionKeyPattern, 100).Iterator()
	batch := make([]string, 0, batchCap)

	for iter.Next(req.Ctx) {
		key := iter.Val()
		if !shouldIncludeSessionKey(req, key) {
			continue
		}

		stats.total++
		batch = append(batch, key)

		if len(batch) == batchCap {
			flushSessionBatch(req, batch, &stats)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("redis scan: %w", err)
	}

	flushSessionBatch(req, batch, &stats)
	return stats, nil
}

func shouldIncludeSessionKey(req *sessionDeleteRequest, key string) bool {
	if req.Options.UserID == "" {
		return true
	}
	return sessionOwner(req.Ctx, req.Redis, key) == req.Options.UserID
}

func flushSessionBatch(req *sessionDeleteRequest, batch []string, stats *sessionDeleteStats) {
	if len(batch) == 0 {
		return
	}
	if req.Options.DryRun {
		stats.deleted += int64(len(batch))
		if req.Logger != nil {
			req.Logger.Info("dry-run skipping session delete", "count", len(batch))
		}
		return
	}
	n, delErr := req.Redis.Del(req.Ctx, batch...).Result()
	if delErr != nil {
		stats.failures++
		if req.Logger != nil {
			req.Logger.Error("failed to delete session keys", "count", len(batch), "error", delErr)
		}
		return
	}
	stats.deleted += n
}

func renderTTL(d time.Duration) string {
	switch {
	case d == -1*time.Second:
		return "no expiry"
	case d == -2*time.Second:
		return "key missing"
	default:
		return d.String()
	}
}
