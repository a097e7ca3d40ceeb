package snowchat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/pipeline"
	"github.com/snowchat/snowchat/internal/storage/s3"
)

// OpenFunc opens the session a command runs against.
type OpenFunc func(ctx context.Context, cfg config.Config) (*pipeline.Session, error)

type Options struct {
	Lookup     config.LookupFunc
	Open       OpenFunc
	Logger     *slog.Logger
	HTTPClient *http.Client
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	stdin := defaults.Stdin
	if stdin == nil {
		stdin = strings.NewReader("")
	}

	fs := flag.NewFlagSet("snowchat", flag.ContinueOnError)
	fs.SetOutput(stderr)

	promptsDir := fs.String("prompts-dir", "", "Prompt template directory (overrides SNOWCHAT_PROMPTS_DIR)")
	maxRows := fs.Int("max-rows", 0, "Maximum rows fetched per query (overrides SNOWCHAT_WAREHOUSE_MAX_ROWS)")
	displayRows := fs.Int("display-rows", 20, "Rows printed per result table")
	followUp := fs.String("follow-up", "", "Analysis request run on the result of ask")
	baseURL := fs.String("base-url", "http://localhost:8080", "snowchat API base URL for health and ready")
	timeout := fs.Duration("timeout", 10*time.Second, "HTTP timeout for health and ready")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	command := strings.TrimSpace(fs.Arg(0))
	switch command {
	case "health", "ready":
		client := defaults.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: *timeout}
		}
		return runRemote(ctx, client, strings.TrimRight(*baseURL, "/")+"/v1/"+command, stdout, stderr)
	case "ask", "schema", "samples", "preview", "repl":
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	rest := fs.Args()[1:]
	if (command == "ask" || command == "preview") && len(rest) == 0 {
		_, _ = fmt.Fprintf(stderr, "%s needs an argument\n\n", command)
		writeUsage(stderr)
		return 2
	}

	lookup := defaults.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg, err := config.Load("snowchat", lookup)
	if err != nil {
		printError(stderr, err)
		return 1
	}
	if *promptsDir != "" {
		cfg.Prompts.Dir = *promptsDir
	}
	if *maxRows > 0 {
		cfg.Warehouse.MaxRows = *maxRows
	}

	open := defaults.Open
	if open == nil {
		open = openFromConfig(defaults.Logger)
	}
	session, err := open(ctx, cfg)
	if err != nil {
		printError(stderr, err)
		return 1
	}
	defer func() { _ = session.Close() }()

	r := &renderer{out: stdout, maxRows: *displayRows}
	switch command {
	case "ask":
		return runAsk(ctx, session, r, stderr, strings.Join(rest, " "), *followUp)
	case "schema":
		snapshot, err := session.Schema(ctx)
		if err != nil {
			printError(stderr, err)
			return 1
		}
		r.schema(snapshot)
	case "samples":
		questions, err := session.SampleQuestions(ctx)
		if err != nil {
			printError(stderr, err)
			return 1
		}
		r.questions(questions)
	case "preview":
		result, err := session.PreviewTable(ctx, rest[0])
		if err != nil {
			printError(stderr, err)
			return 1
		}
		r.result(result)
	case "repl":
		return runREPL(ctx, session, r, stdin, stderr)
	}
	return 0
}

func openFromConfig(logger *slog.Logger) OpenFunc {
	return func(ctx context.Context, cfg config.Config) (*pipeline.Session, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		store, err := s3.FromConfig(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, err
		}
		return pipeline.OpenSession(ctx, "", pipeline.Environment{Config: cfg, Store: store, Logger: logger})
	}
}

func runAsk(ctx context.Context, session *pipeline.Session, r *renderer, stderr io.Writer, question, followUp string) int {
	turn, err := session.Ask(ctx, question)
	if turn != nil {
		r.turn(turn)
	}
	if err != nil {
		printError(stderr, err)
		return 1
	}
	if strings.TrimSpace(followUp) == "" {
		return 0
	}
	turn, err = session.FollowUp(ctx, turn.ID, followUp)
	if turn != nil {
		r.execution(turn)
	}
	if err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}

// runREPL reads one question per line until EOF or :quit. Errors are
// reported and the loop continues with the next line.
func runREPL(ctx context.Context, session *pipeline.Session, r *renderer, stdin io.Reader, stderr io.Writer) int {
	scanner := bufio.NewScanner(stdin)
	var last *pipeline.Turn
	r.promptMarker()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		command, argument, _ := strings.Cut(line, " ")
		argument = strings.TrimSpace(argument)
		switch {
		case line == "":
		case command == ":quit" || command == ":q":
			return 0
		case command == ":help":
			writeREPLHelp(r.out)
		case command == ":schema":
			if snapshot, err := session.Schema(ctx); err != nil {
				printError(stderr, err)
			} else {
				r.schema(snapshot)
			}
		case command == ":refresh":
			if snapshot, err := session.RefreshSchema(ctx); err != nil {
				printError(stderr, err)
			} else {
				r.schema(snapshot)
			}
		case command == ":samples":
			if questions, err := session.SampleQuestions(ctx); err != nil {
				printError(stderr, err)
			} else {
				r.questions(questions)
			}
		case command == ":preview":
			if result, err := session.PreviewTable(ctx, argument); err != nil {
				printError(stderr, err)
			} else {
				r.result(result)
			}
		case command == ":code":
			if last == nil {
				_, _ = fmt.Fprintln(stderr, "ask a question before requesting code")
				break
			}
			turn, err := session.FollowUp(ctx, last.ID, argument)
			if turn != nil {
				r.execution(turn)
			}
			if err != nil {
				printError(stderr, err)
			}
		case strings.HasPrefix(command, ":"):
			_, _ = fmt.Fprintf(stderr, "unknown command %s (try :help)\n", command)
		default:
			turn, err := session.Ask(ctx, line)
			if turn != nil {
				r.turn(turn)
				last = turn
			}
			if err != nil {
				printError(stderr, err)
			}
		}
		r.promptMarker()
	}
	if err := scanner.Err(); err != nil {
		_, _ = fmt.Fprintf(stderr, "read input: %v\n", err)
		return 1
	}
	return 0
}

func runRemote(ctx context.Context, client *http.Client, url string, stdout, stderr io.Writer) int {
	code, body, err := doRequest(ctx, client, url)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(body)))
		return 1
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(stdout, string(body))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: snowchat [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  ask <question>   generate, validate and run SQL (-follow-up runs analysis code)")
	_, _ = fmt.Fprintln(w, "  schema           print the schema snapshot")
	_, _ = fmt.Fprintln(w, "  samples          suggest questions for the schema")
	_, _ = fmt.Fprintln(w, "  preview <table>  print the first rows of a table")
	_, _ = fmt.Fprintln(w, "  repl             interactive session")
	_, _ = fmt.Fprintln(w, "  health           GET /v1/health on a running API")
	_, _ = fmt.Fprintln(w, "  ready            GET /v1/ready on a running API")
}

func writeREPLHelp(w io.Writer) {
	_, _ = fmt.Fprintln(w, "  <question>         ask a question")
	_, _ = fmt.Fprintln(w, "  :code <request>    analyse the last result")
	_, _ = fmt.Fprintln(w, "  :schema            print the schema snapshot")
	_, _ = fmt.Fprintln(w, "  :refresh           rebuild the schema snapshot")
	_, _ = fmt.Fprintln(w, "  :samples           suggest questions")
	_, _ = fmt.Fprintln(w, "  :preview <table>   print the first rows of a table")
	_, _ = fmt.Fprintln(w, "  :quit              leave")
}
