package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mahan-lms/lms-assistant/config"
	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/internal/interface/router"
	"github.com/mahan-lms/lms-assistant/pkg/result"
)

// callSeparator splits several calls given on one command line.
const callSeparator = "--"

var (
	// errUsage is returned when no capability was named.
	errUsage = errors.New("usage: assistant [--list] [--json] [--serve] <capability> [key=value ...] [-- <capability> ...]")

	errMutationNotFound = errors.New("no mutation recorded")
)

type options struct {
	List          bool
	JSON          bool
	Serve         bool
	EnableAgents  []string
	DisableAgents []string
	Args          []string
}

// invokeFunc runs the capabilities selected by opts.
type invokeFunc func(ctx context.Context, opts options, stdin io.Reader, stdout io.Writer) error

// lookupFunc prints the mutation log entry stored under an idempotency key.
type lookupFunc func(ctx context.Context, key string, out *printer) error

func newRootCmd(invoke invokeFunc, lookup lookupFunc) *cobra.Command {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "assistant [flags] <capability> [key=value ...] [-- <capability> ...]",
		Short: "LMS assistant",
		Long: `Runs LMS assistant capabilities against the configured LMS.

Several calls can be given on one line, separated by "--"; they are
dispatched concurrently and printed in order.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Args = restoreSeparator(args, cmd.ArgsLenAtDash())
			if !opts.List && !opts.Serve && len(opts.Args) == 0 {
				return errUsage
			}
			return invoke(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print raw JSON instead of text")
	rootCmd.Flags().BoolVar(&opts.List, "list", false, "list registered capabilities")
	rootCmd.Flags().BoolVar(&opts.Serve, "serve", false, "read one call per line from stdin")
	rootCmd.Flags().StringSliceVar(&opts.EnableAgents, "enable-agent", nil, "turn a capability group on for this run (e.g. actions)")
	rootCmd.Flags().StringSliceVar(&opts.DisableAgents, "disable-agent", nil, "turn a capability group off for this run")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "mutation <idempotency-key>",
		Short: "Show the recorded outcome of a mutating call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			if _, err := uuid.Parse(key); err != nil {
				return fmt.Errorf("invalid idempotency key %q: %w", key, err)
			}
			return lookup(cmd.Context(), key, newPrinter(cmd.OutOrStdout(), opts.JSON))
		},
	})

	return rootCmd
}

// restoreSeparator puts back the first "--", which the flag parser consumes.
// dash is cobra's ArgsLenAtDash, -1 when no separator was given.
func restoreSeparator(args []string, dash int) []string {
	if dash < 0 || dash > len(args) {
		return args
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[:dash]...)
	out = append(out, callSeparator)
	return append(out, args[dash:]...)
}

// applyAgentFlags overrides capability group flags before the router is built.
func applyAgentFlags(ff *config.FeatureFlags, enable, disable []string) error {
	for _, group := range enable {
		if err := ff.EnableFeature(config.FeatureAgentPrefix + strings.TrimSpace(group)); err != nil {
			return fmt.Errorf("--enable-agent %s: %w", group, err)
		}
	}
	for _, group := range disable {
		if err := ff.DisableFeature(config.FeatureAgentPrefix + strings.TrimSpace(group)); err != nil {
			return fmt.Errorf("--disable-agent %s: %w", group, err)
		}
	}
	return nil
}

// parseCalls turns "name k=v k=v -- name k=v" into calls.
func parseCalls(args []string) ([]router.Call, error) {
	var calls []router.Call
	start := 0
	for i := 0; i <= len(args); i++ {
		if i < len(args) && args[i] != callSeparator {
			continue
		}
		if i > start {
			c, err := parseCall(args[start:i])
			if err != nil {
				return nil, err
			}
			calls = append(calls, c)
		}
		start = i + 1
	}
	if len(calls) == 0 {
		return nil, errUsage
	}
	return calls, nil
}

func parseCall(fields []string) (router.Call, error) {
	c := router.Call{Capability: fields[0], Args: operation.Args{}}
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(f, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return c, fmt.Errorf("%s: argument %q is not key=value", c.Capability, f)
		}
		c.Args[strings.TrimSpace(key)] = value
	}
	return c, nil
}

// serve dispatches one call per input line until EOF or ctx is done.
// Blank lines and lines starting with # are skipped. A malformed line prints
// a validation failure and does not stop the loop.
func serve(ctx context.Context, rt *router.Router, in io.Reader, out *printer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			c, err := parseCall(strings.Fields(line))
			var env result.Envelope
			if err != nil {
				env = result.Failf(result.KindValidation, "%v", err)
			} else {
				env = rt.Dispatch(ctx, c.Capability, c.Args)
			}
			if err := out.envelopes([]result.Envelope{env}); err != nil {
				return err
			}
		}
	}
}

// printer renders results either as text or as JSON lines.
type printer struct {
	w    io.Writer
	json bool
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	return &printer{w: w, json: asJSON}
}

func (p *printer) envelopes(envs []result.Envelope) error {
	enc := json.NewEncoder(p.w)
	for i, env := range envs {
		if p.json {
			if err := enc.Encode(env); err != nil {
				return err
			}
			continue
		}
		if i > 0 {
			if _, err := fmt.Fprintln(p.w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(p.w, router.Format(env)); err != nil {
			return err
		}
	}
	return nil
}

type capabilityView struct {
	Name        string   `json:"name"`
	Agent       string   `json:"agent"`
	Description string   `json:"description"`
	Required    []string `json:"required,omitempty"`
	Optional    []string `json:"optional,omitempty"`
	Mutating    bool     `json:"mutating"`
}

func (p *printer) describe(caps []router.Capability) error {
	if p.json {
		views := make([]capabilityView, 0, len(caps))
		for _, c := range caps {
			views = append(views, capabilityView{
				Name:        c.Name,
				Agent:       c.Agent,
				Description: c.Description,
				Required:    c.Required,
				Optional:    c.Optional,
				Mutating:    c.Mutating,
			})
		}
		return json.NewEncoder(p.w).Encode(views)
	}

	for _, c := range caps {
		line := fmt.Sprintf("%-10s %-28s %s", c.Agent, c.Name, c.Description)
		if len(c.Required) > 0 {
			line += " required=" + strings.Join(c.Required, ",")
		}
		if len(c.Optional) > 0 {
			line += " optional=" + strings.Join(c.Optional, ",")
		}
		if c.Mutating {
			line += " [mutating]"
		}
		if _, err := fmt.Fprintln(p.w, line); err != nil {
			return err
		}
	}
	return nil
}

type mutationView struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Operation      string    `json:"operation"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	Attempts       int       `json:"attempts"`
	RecordedAt     time.Time `json:"recorded_at"`
}

func (p *printer) mutation(rec operation.MutationRecord) error {
	if p.json {
		return json.NewEncoder(p.w).Encode(mutationView(rec))
	}

	outcome := "ok"
	if !rec.Success {
		outcome = "failed: " + rec.Error
	}
	w := tabwriter.NewWriter(p.w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tOPERATION\tREQUEST\tATTEMPTS\tRECORDED\tOUTCOME")
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s %s\t%d\t%s\t%s\n",
		rec.IdempotencyKey, rec.Operation, rec.Method, rec.Path,
		rec.Attempts, rec.RecordedAt.UTC().Format(time.RFC3339), outcome)
	return w.Flush()
}
