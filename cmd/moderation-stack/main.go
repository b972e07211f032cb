package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"ivs-moderation/internal/config"
	"ivs-moderation/internal/logging"
	"ivs-moderation/internal/playback"
	"ivs-moderation/internal/provision"
	"ivs-moderation/internal/stack"
	"ivs-moderation/internal/state"
	"ivs-moderation/internal/templates"
	"ivs-moderation/internal/types"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const usage = `usage: moderation-stack <command> [flags]

commands:
  synth     print the resource definition as YAML
  deploy    create every resource and record the deployment
  outputs   print the outputs of the recorded deployment
  verify    fetch config.json from the deployed website
  list      list recorded deployments
  destroy   delete every resource of the recorded deployment
`

type app struct {
	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer

	store   state.Store
	drivers map[stack.Kind]provision.Driver
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, logger: logger, stdout: os.Stdout}
	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.Fatal("Command failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "synth":
		return a.synth(args)
	case "deploy":
		return a.deploy(ctx, args)
	case "outputs":
		return a.outputs(ctx, args)
	case "verify":
		return a.verify(ctx, args)
	case "list":
		return a.list(ctx)
	case "destroy":
		return a.destroy(ctx, args)
	case "help", "-h", "--help":
		fmt.Fprint(a.stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

// connect creates the AWS backed store and drivers unless they were injected.
func (a *app) connect(ctx context.Context) error {
	if a.store != nil && a.drivers != nil {
		return nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	if a.store == nil {
		a.store = state.NewDynamoDBStore(awsCfg, a.cfg.AWS.DynamoDBTable)
	}
	if a.drivers == nil {
		a.drivers = provision.NewAWSDrivers(awsCfg, a.logger)
	}
	return nil
}

func (a *app) manager() *provision.Manager {
	return provision.NewManager(a.store, a.drivers, a.logger)
}

func (a *app) synth(args []string) error {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	deploymentID := fs.String("deployment-id", "", "deployment id used in generated names (random when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *deploymentID == "" {
		*deploymentID = uuid.NewString()
	}

	def := stack.NewModerationStack(a.cfg.Stack, a.cfg.Handler, *deploymentID)
	if err := def.Validate(); err != nil {
		return err
	}
	out, err := def.Synth()
	if err != nil {
		return fmt.Errorf("failed to synthesize stack: %w", err)
	}
	_, err = a.stdout.Write(out)
	return err
}

func (a *app) deploy(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ContinueOnError)
	outputsFile := fs.String("o", "", "also write the outputs as JSON to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.connect(ctx); err != nil {
		return err
	}

	deploymentID := uuid.NewString()
	def := stack.NewModerationStack(a.cfg.Stack, a.cfg.Handler, deploymentID)

	deployment, err := a.manager().Deploy(ctx, def)
	if err != nil {
		return err
	}
	return a.printOutputs(deployment.Outputs, *outputsFile)
}

func (a *app) outputs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("outputs", flag.ContinueOnError)
	outputsFile := fs.String("o", "", "write the outputs as JSON to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.connect(ctx); err != nil {
		return err
	}

	outputs, err := a.manager().Outputs(ctx, a.cfg.Stack.Name)
	if err != nil {
		return err
	}
	return a.printOutputs(outputs, *outputsFile)
}

func (a *app) printOutputs(outputs map[string]string, file string) error {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(a.stdout, "%s.%s = %s\n", a.cfg.Stack.Name, k, outputs[k])
	}

	if file == "" {
		return nil
	}
	data, err := json.MarshalIndent(map[string]map[string]string{a.cfg.Stack.Name: outputs}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal outputs: %w", err)
	}
	if err := os.WriteFile(file, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write outputs: %w", err)
	}
	return nil
}

type sourceRecorder struct {
	source string
}

func (p *sourceRecorder) SetSource(url string) {
	p.source = url
}

// verify loads config.json from the deployed website the same way the page does.
func (a *app) verify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.connect(ctx); err != nil {
		return err
	}

	outputs, err := a.manager().Outputs(ctx, a.cfg.Stack.Name)
	if err != nil {
		return err
	}
	website := outputs[types.OutputWebsiteURL]
	if website == "" {
		return fmt.Errorf("deployment has no %s output", types.OutputWebsiteURL)
	}

	if !strings.Contains(website, "://") {
		website = "https://" + website
	}

	player := &sourceRecorder{}
	configURL := strings.TrimSuffix(website, "/") + "/" + templates.ConfigKey
	controller := playback.NewController(player, &http.Client{Timeout: *timeout}, configURL, a.logger)
	controller.Load(ctx)

	if player.source == playback.FallbackPlaybackURL {
		return fmt.Errorf("%s did not provide a playback URL", configURL)
	}
	if want := outputs[types.OutputPlaybackURL]; want != "" && player.source != want {
		return fmt.Errorf("%s serves %s, deployment recorded %s", configURL, player.source, want)
	}
	fmt.Fprintf(a.stdout, "%s -> %s\n", configURL, player.source)
	return nil
}

func (a *app) list(ctx context.Context) error {
	if err := a.connect(ctx); err != nil {
		return err
	}
	deployments, err := a.store.ListDeployments(ctx)
	if err != nil {
		return err
	}
	for _, d := range deployments {
		fmt.Fprintf(a.stdout, "%s\t%s\t%s\t%d resources\t%s\n",
			d.StackName, d.DeploymentID, d.Status, len(d.Resources), d.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func (a *app) destroy(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("destroy", flag.ContinueOnError)
	force := fs.Bool("force", false, "required to delete the stack")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		return fmt.Errorf("refusing to destroy %s without -force", a.cfg.Stack.Name)
	}
	if err := a.connect(ctx); err != nil {
		return err
	}

	return a.manager().Destroy(ctx, a.cfg.Stack.Name)
}
