// Command airgap-wallet drives the wallet from a shell: account management
// and signing on the offline machine, verification on the receiving one.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"cosmossdk.io/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blockberries/airgap-wallet/config"
	"github.com/blockberries/airgap-wallet/types"
	"github.com/blockberries/airgap-wallet/wallet"
	"github.com/blockberries/airgap-wallet/workflow"
)

const (
	exitOK           = 0
	exitFailure      = 1
	exitInvalidInput = 10
	exitAuthFailed   = 20
	exitRejected     = 30
	exitInternal     = 40
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *cliEnv, args []string) int
}

var commands = []command{
	{"list", "list accounts", runList},
	{"create", "create an account: create -name NAME", runCreate},
	{"delete", "delete an account: delete -id ID", runDelete},
	{"address", "unlock an account and print its address: address -id ID", runAddress},
	{"sign", "sign a transaction into the outbox: sign -id ID -to ADDR -value N -nonce N [-data HEX]", runSign},
	{"outbox", "list signed envelopes", runListState((*wallet.Service).ListOutbox)},
	{"inbox", "list envelopes awaiting verification", runListState((*wallet.Service).ListInbox)},
	{"verified", "list verified envelopes", runListState((*wallet.Service).ListVerified)},
	{"transport", "copy an outbox envelope into the inbox: transport FILE", runTransport},
	{"import", "copy an envelope file into the inbox: import PATH", runImport},
	{"verify", "verify an inbox envelope: verify FILE", runVerify},
	{"prove", "print a spent-nonce proof (iavl ledger): prove -address ADDR -nonce N", runProve},
}

// cliEnv is the state shared by every subcommand.
type cliEnv struct {
	svc    *wallet.Service
	logger log.Logger
}

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	global := flag.NewFlagSet("airgap-wallet", flag.ContinueOnError)
	configPath := global.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	metricsFile := global.String("metrics-file", "", "write metrics in the Prometheus text format to this file on exit")
	global.Usage = func() { printUsage(global) }
	if err := global.Parse(args); err != nil {
		return exitInvalidInput
	}
	rest := global.Args()
	if len(rest) == 0 {
		printUsage(global)
		return exitInvalidInput
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == rest[0] {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", rest[0])
		printUsage(global)
		return exitInvalidInput
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidInput
	}
	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidInput
	}

	registry := prometheus.NewRegistry()
	svc, err := wallet.Open(cfg, wallet.WithLogger(logger), wallet.WithRegisterer(registry))
	if err != nil {
		logger.Error("failed to open wallet", "data_dir", cfg.DataDir, "err", err)
		return exitFailure
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("failed to close wallet", "err", err)
		}
	}()

	env := &cliEnv{svc: svc, logger: logger}
	code := cmd.run(context.Background(), env, rest[1:])

	if *metricsFile != "" && cfg.MetricsEnabled {
		if err := prometheus.WriteToTextfile(*metricsFile, registry); err != nil {
			logger.Error("failed to write metrics", "path", *metricsFile, "err", err)
		}
	}
	return code
}

func printUsage(global *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: airgap-wallet [flags] <command> [args]")
	fmt.Fprintln(os.Stderr, "\ncommands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(os.Stderr, "\nflags:")
	global.PrintDefaults()
}

// respond prints resp as JSON on stdout and maps its kind to an exit code.
func respond[T any](resp wallet.Response[T]) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInternal
	}
	return exitCode(resp.Success, resp.Kind)
}

func exitCode(success bool, kind types.Kind) int {
	if success {
		return exitOK
	}
	switch kind {
	case types.KindMalformedInput, types.KindNotFound, types.KindDuplicateName:
		return exitInvalidInput
	case types.KindWrongPasswordOrCorrupt, types.KindRateLimited, types.KindTamperedRecord:
		return exitAuthFailed
	case types.KindInvalidSignature, types.KindAddressMismatch, types.KindReplayedNonce, types.KindUnsupportedScheme:
		return exitRejected
	default:
		return exitInternal
	}
}

func usageError(fs *flag.FlagSet, msg string) int {
	fmt.Fprintln(os.Stderr, msg)
	fs.Usage()
	return exitInvalidInput
}

func runList(ctx context.Context, env *cliEnv, args []string) int {
	return respond(env.svc.ListAccounts(ctx))
}

func runCreate(ctx context.Context, env *cliEnv, args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	name := fs.String("name", "", "account display name")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	if strings.TrimSpace(*name) == "" {
		return usageError(fs, "name is required")
	}
	password, err := readPasswordWithConfirm("New password: ", "Confirm password: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidInput
	}
	return respond(env.svc.CreateAccount(ctx, wallet.CreateAccountRequest{Name: *name, Password: password}))
}

func runDelete(ctx context.Context, env *cliEnv, args []string) int {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	id := fs.String("id", "", "account id")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	if *id == "" {
		return usageError(fs, "id is required")
	}
	return respond(env.svc.DeleteAccount(ctx, *id))
}

func runAddress(ctx context.Context, env *cliEnv, args []string) int {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	id := fs.String("id", "", "account id")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	if *id == "" {
		return usageError(fs, "id is required")
	}
	password, err := readPassword("Password: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidInput
	}
	return respond(env.svc.UnlockAndDeriveAddress(ctx, *id, password))
}

func runSign(ctx context.Context, env *cliEnv, args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	id := fs.String("id", "", "signing account id")
	to := fs.String("to", "", "recipient address")
	value := fs.String("value", "", "amount as a decimal integer")
	nonce := fs.String("nonce", "", "sender nonce as a decimal integer")
	data := fs.String("data", "", "optional 0x-prefixed hex payload")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	if *id == "" || *to == "" || *value == "" || *nonce == "" {
		return usageError(fs, "id, to, value and nonce are required")
	}
	password, err := readPassword("Password: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidInput
	}

	req := wallet.SignTransactionRequest{
		AccountID: *id,
		Password:  password,
		To:        *to,
		Value:     *value,
		Nonce:     *nonce,
	}
	if *data != "" {
		req.Data = data
	}
	return respond(env.svc.SignTransaction(ctx, req))
}

func runListState(list func(*wallet.Service, context.Context) wallet.Response[[]workflow.FileInfo]) func(context.Context, *cliEnv, []string) int {
	return func(ctx context.Context, env *cliEnv, args []string) int {
		return respond(list(env.svc, ctx))
	}
}

func runTransport(ctx context.Context, env *cliEnv, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: transport FILE")
		return exitInvalidInput
	}
	return respond(env.svc.TransportOutboxItem(ctx, args[0]))
}

func runImport(ctx context.Context, env *cliEnv, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: import PATH")
		return exitInvalidInput
	}
	env.logger.Debug("importing envelope", "path", args[0])
	return respond(env.svc.ImportInboxItem(ctx, args[0]))
}

func runVerify(ctx context.Context, env *cliEnv, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: verify FILE")
		return exitInvalidInput
	}
	env.logger.Debug("verifying inbox item", "file", args[0])
	return respond(env.svc.VerifyInboxItem(ctx, args[0]))
}

func runProve(ctx context.Context, env *cliEnv, args []string) int {
	fs := flag.NewFlagSet("prove", flag.ContinueOnError)
	addr := fs.String("address", "", "sender address")
	nonce := fs.Uint64("nonce", 0, "spent nonce")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	if *addr == "" {
		return usageError(fs, "address is required")
	}
	return respond(env.svc.ProveNonceSpent(ctx, *addr, *nonce))
}
