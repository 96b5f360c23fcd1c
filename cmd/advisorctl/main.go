// Command advisorctl is a terminal client for the advisor backend. It keeps
// its session in a token file (optionally sealed with a passphrase) or in
// redis, so consecutive invocations share one login.
//
// Usage:
//
//	advisorctl [-config file] <command> [args]
//
// Commands:
//
//	login [email]           sign in (password from ADVISOR_PASSWORD or prompt)
//	logout                  sign out and forget the stored tokens
//	whoami                  print the signed-in profile
//	stats                   print dashboard statistics
//	upload <file.csv>       upload an Azure Advisor export
//	reports                 list reports
//	generate <fileId>       generate a report for an uploaded file
//	report <id>             show one report
//	download <id> <out>     save a report file
//	metrics                 print client metrics in Prometheus text format
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/advisor"
	"github.com/MrEthical07/goAuthClient/metrics/export/prometheus"
	"github.com/MrEthical07/goAuthClient/tokenstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configFile := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: advisorctl [-config file] <login|logout|whoami|stats|upload|reports|generate|report|download|metrics> [args]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile, flag.Args(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "advisorctl:", err)
		if errors.Is(err, goAuthClient.ErrAuthExpired) || errors.Is(err, goAuthClient.ErrNotAuthenticated) {
			fmt.Fprintln(os.Stderr, "run `advisorctl login` to sign in again")
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string, args []string, stdin io.Reader, stdout io.Writer) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	clientCfg := goAuthClient.DefaultConfig()
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.UserAgent = "advisorctl/1"
	clientCfg.Timeouts.Request = cfg.RequestTimeout
	clientCfg.Timeouts.Upload = cfg.UploadTimeout
	clientCfg.Retry.MaxAttempts = cfg.RetryAttempts
	clientCfg.Refresh.Skew = cfg.RefreshSkew
	clientCfg.Metrics.Enabled = true
	clientCfg.Metrics.EnableLatencyHistograms = true

	session, err := goAuthClient.New().
		WithConfig(clientCfg).
		WithTokenStore(store).
		WithLogger(logger).
		WithEventSink(goAuthClient.ZapSink{Logger: logger.Named("events")}).
		Build()
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Init(ctx); err != nil {
		return err
	}

	api := advisor.New(session.Client())
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "login":
		email := cfg.Email
		if len(rest) > 0 {
			email = rest[0]
		}
		password := cfg.Password
		if email == "" || password == "" {
			if email, password, err = prompt(stdin, stdout, email); err != nil {
				return err
			}
		}
		user, err := session.Login(ctx, goAuthClient.Credentials{Email: email, Password: password})
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "signed in as %s (%s)\n", user.Username, user.Email)
		return nil

	case "logout":
		return session.Logout(ctx)

	case "whoami":
		if err := session.WaitValidated(ctx); err != nil {
			return err
		}
		snap := session.Snapshot()
		if !snap.Authenticated {
			return goAuthClient.ErrNotAuthenticated
		}
		return printJSON(stdout, snap.User)

	case "stats":
		stats, err := api.DashboardStats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, stats)

	case "upload":
		if len(rest) != 1 {
			return errors.New("usage: upload <file.csv>")
		}
		f, err := os.Open(rest[0])
		if err != nil {
			return err
		}
		defer f.Close()
		res, err := api.UploadCSV(ctx, rest[0], f)
		if err != nil {
			return err
		}
		return printJSON(stdout, res)

	case "reports":
		list, err := api.ListReports(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, list)

	case "generate":
		if len(rest) < 1 {
			return errors.New("usage: generate <fileId> [title]")
		}
		req := advisor.GenerateRequest{FileID: rest[0]}
		if len(rest) > 1 {
			req.Title = strings.Join(rest[1:], " ")
		}
		rep, err := api.GenerateReport(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(stdout, rep)

	case "report":
		if len(rest) != 1 {
			return errors.New("usage: report <id>")
		}
		rep, err := api.GetReport(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(stdout, rep)

	case "download":
		if len(rest) != 2 {
			return errors.New("usage: download <id> <out>")
		}
		out, err := os.Create(rest[1])
		if err != nil {
			return err
		}
		n, err := api.DownloadReport(ctx, rest[0], out)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %d bytes to %s\n", n, rest[1])
		return nil

	case "metrics":
		_, err := io.WriteString(stdout, prometheus.NewExporter(session).Render())
		return err

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// openStore picks redis when an address is configured and the token file
// otherwise.
func openStore(cfg *cliConfig) (tokenstore.Store, func(), error) {
	if cfg.RedisAddr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		store := tokenstore.NewRedisStore(rdb, cfg.RedisPrefix, cfg.Profile, 0)
		return store, func() { _ = rdb.Close() }, nil
	}

	var sealer *tokenstore.Sealer
	if cfg.Passphrase != "" {
		var err error
		if sealer, err = tokenstore.NewSealer(cfg.Passphrase, tokenstore.DefaultSealConfig()); err != nil {
			return nil, nil, err
		}
	}
	path := cfg.TokenFile
	if cfg.Profile != "" && cfg.Profile != "default" {
		path += "." + cfg.Profile
	}
	return tokenstore.NewFileStore(path, sealer), func() {}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func prompt(in io.Reader, out io.Writer, email string) (string, string, error) {
	r := bufio.NewReader(in)
	if email == "" {
		fmt.Fprint(out, "email: ")
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return "", "", err
		}
		email = strings.TrimSpace(line)
	}
	fmt.Fprint(out, "password: ")
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", "", err
	}
	return email, strings.TrimRight(line, "\r\n"), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
