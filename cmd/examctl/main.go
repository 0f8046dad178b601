// Command examctl is the operator tool for exam sessions: it seeds exams,
// inspects and resets candidate progress, and reports results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/stemsi/exam-runner/internal/config"
	"github.com/stemsi/exam-runner/internal/database"
	"github.com/stemsi/exam-runner/internal/logger"
	"github.com/stemsi/exam-runner/internal/model"
	"github.com/stemsi/exam-runner/internal/repository"
	"github.com/stemsi/exam-runner/internal/service"
	"github.com/stemsi/exam-runner/internal/store"
)

var (
	bold  = color.New(color.Bold).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	dim   = color.New(color.Faint).SprintFunc()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	log := logger.Setup("examctl", cfg.LogLevel, "pretty")
	a := &app{cfg: cfg, log: log}
	defer a.close()

	cmd := &cli.Command{
		Name:  "examctl",
		Usage: "operate exam sessions and candidate attempts",
		Commands: []*cli.Command{
			{
				Name:   "seed",
				Usage:  "create an exam session and its candidates from a TOML file",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true}},
				Action: a.seed,
			},
			{
				Name:   "progress",
				Usage:  "print the stored progress of a candidate",
				Flags:  []cli.Flag{tokenFlag()},
				Action: a.progress,
			},
			{
				Name:   "reset",
				Usage:  "clear the progress of a candidate so the attempt starts over",
				Flags:  []cli.Flag{tokenFlag()},
				Action: a.reset,
			},
			{
				Name:   "results",
				Usage:  "list stored results of a session",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Required: true}},
				Action: a.results,
			},
			{
				Name:   "monitor",
				Usage:  "show answered and violation counts per candidate of a session",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Required: true}},
				Action: a.monitor,
			},
			{
				Name:   "violations",
				Usage:  "list logged violations of a candidate",
				Flags:  []cli.Flag{tokenFlag()},
				Action: a.violations,
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		a.close()
		os.Exit(1)
	}
}

func tokenFlag() cli.Flag {
	return &cli.StringFlag{Name: "token", Aliases: []string{"t"}, Usage: "candidate access token", Required: true}
}

// app connects lazily so each command only needs the stores it touches.
type app struct {
	cfg  *config.Config
	log  zerolog.Logger
	pool *pgxpool.Pool
	rdb  *redis.Client
}

func (a *app) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool == nil {
		pool, err := database.NewPostgresPool(ctx, a.cfg, a.log)
		if err != nil {
			return nil, err
		}
		a.pool = pool
	}
	return a.pool, nil
}

func (a *app) redis(ctx context.Context) (*redis.Client, error) {
	if a.rdb == nil {
		rdb, err := database.NewRedisClient(ctx, a.cfg, a.log)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
	}
	return a.rdb, nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
		a.rdb = nil
	}
}

func (a *app) seed(ctx context.Context, cmd *cli.Command) error {
	data, err := os.ReadFile(cmd.String("file"))
	if err != nil {
		return err
	}
	def, names, err := parseSeed(data)
	if err != nil {
		return err
	}
	pool, err := a.postgres(ctx)
	if err != nil {
		return err
	}

	sessionID, candidates, err := repository.NewSessionRepository(pool).CreateExam(ctx, def, names)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s (%d questions, %d algorithm tasks)\n",
		green("created session"), bold(sessionID), def.QuestionCount(), len(def.AlgorithmTasks))
	for _, c := range candidates {
		fmt.Printf("  %-24s %s\n", c.CandidateName, c.AccessToken)
	}
	return nil
}

// sessions serves progress and reset, which only touch the KV.
func (a *app) sessions(ctx context.Context) (*service.SessionService, error) {
	rdb, err := a.redis(ctx)
	if err != nil {
		return nil, err
	}
	kv := store.NewRedisKV(rdb)
	progress := store.NewProgressStore(kv, store.DefaultProgressTTL)
	attempts := service.NewAttemptService(a.cfg, kv)
	return service.NewSessionService(nil, nil, kv, progress, attempts, a.log), nil
}

func (a *app) progress(ctx context.Context, cmd *cli.Command) error {
	sessions, err := a.sessions(ctx)
	if err != nil {
		return err
	}
	p, err := sessions.Progress(ctx, cmd.String("token"))
	if err != nil {
		return err
	}
	printProgress(p)
	return nil
}

func printProgress(p *model.SessionProgress) {
	state := dim("not started")
	switch {
	case p.Finished:
		state = green("finished")
	case p.Started:
		state = bold("in progress")
	}
	fmt.Printf("%s %s\n", bold("state:"), state)
	fmt.Printf("%s %d\n", bold("current task:"), p.CurrentTaskIndex)
	fmt.Printf("%s %s\n", bold("elapsed:"), time.Duration(p.ElapsedSeconds)*time.Second)
	if p.DraftAnswer != "" {
		fmt.Printf("%s %q\n", bold("draft:"), p.DraftAnswer)
	}

	fmt.Printf("%s %d\n", bold("answers:"), len(p.Answers))
	for _, ans := range p.Answers {
		fmt.Printf("  %-28s %q %s\n", ans.TaskKey, ans.Text, dim(time.UnixMilli(ans.SubmittedAt).Format(time.RFC3339)))
	}

	keys := make([]string, 0, len(p.Timers))
	for k := range p.Timers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println(bold("timers:"))
	for _, k := range keys {
		left := fmt.Sprintf("%ds", p.Timers[k])
		if p.Timers[k] == 0 {
			left = red("expired")
		}
		fmt.Printf("  %-28s %s\n", k, left)
	}

	for id, res := range p.CodeCheckResults {
		status := red(res.Status)
		if strings.EqualFold(res.Status, "PASSED") {
			status = green(res.Status)
		}
		fmt.Printf("%s %s %s\n", bold("check:"), id, status)
	}
}

func (a *app) reset(ctx context.Context, cmd *cli.Command) error {
	token := cmd.String("token")
	sessions, err := a.sessions(ctx)
	if err != nil {
		return err
	}
	// A server holding the attempt live sees the new reset marker within
	// seconds, drops the attempt and closes the candidate's connection.
	if err := sessions.Reset(ctx, token); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", green("reset"), token)
	return nil
}

func (a *app) results(ctx context.Context, cmd *cli.Command) error {
	sessionID, err := uuid.Parse(cmd.String("session"))
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	pool, err := a.postgres(ctx)
	if err != nil {
		return err
	}
	results, err := repository.NewCandidateRepository(pool).ListResults(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println(dim("no results yet"))
		return nil
	}

	fmt.Printf("%-24s %6s %6s %-9s %s\n", bold("candidate"), bold("test"), bold("algo"), bold("violation"), bold("submitted"))
	for _, r := range results {
		flag := "no"
		if r.ViolationDetected {
			flag = red("yes")
		}
		fmt.Printf("%-24s %6s %6s %-9s %s\n",
			r.CandidateName, r.TestResults, r.AlgorithmResults, flag, r.SubmittedAt.Format(time.RFC3339))
	}
	return nil
}

func (a *app) violations(ctx context.Context, cmd *cli.Command) error {
	pool, err := a.postgres(ctx)
	if err != nil {
		return err
	}
	events, err := repository.NewCandidateRepository(pool).ListViolations(ctx, cmd.String("token"))
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println(green("no violations"))
		return nil
	}
	for _, ev := range events {
		fmt.Printf("%s %-10s %s\n", dim(time.UnixMilli(ev.Timestamp).Format(time.RFC3339)), red(ev.Signal), ev.Detail)
	}
	return nil
}

func (a *app) monitor(ctx context.Context, cmd *cli.Command) error {
	sessionID, err := uuid.Parse(cmd.String("session"))
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	pool, err := a.postgres(ctx)
	if err != nil {
		return err
	}
	snap, err := service.NewMonitorService(repository.NewMonitorRepository(pool)).GetSessionProgress(ctx, sessionID)
	if err != nil {
		return err
	}

	fmt.Printf("%-24s %-11s %8s %10s\n", bold("candidate"), bold("state"), bold("answers"), bold("violations"))
	for _, c := range snap.Candidates {
		state := dim("waiting")
		switch {
		case c.Finished:
			state = green("finished")
		case c.StartedAt != nil:
			state = "started"
		}
		vio := fmt.Sprint(c.Violations)
		if c.Violations > 0 {
			vio = red(vio)
		}
		fmt.Printf("%-24s %-11s %8d %10s\n", c.CandidateName, state, c.Answered, vio)
	}
	fmt.Printf("%s %d\n", bold("total violations:"), snap.TotalViolations)
	return nil
}
