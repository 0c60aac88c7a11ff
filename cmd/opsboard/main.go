// Command opsboard is the opsboard CLI client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GoCodeAlone/opsboard/board"
	"github.com/GoCodeAlone/opsboard/client"
	"github.com/GoCodeAlone/opsboard/internal/version"
	"github.com/GoCodeAlone/opsboard/task"
)

const defaultServer = "http://localhost:9090"

func main() {
	serverURL := flag.String("server", defaultServer, "opsboard server URL")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	app := &app{
		api:     client.New(*serverURL),
		baseURL: strings.TrimRight(*serverURL, "/"),
	}
	ctx := context.Background()

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "version":
		fmt.Printf("opsboard %s (commit %s, built %s)\n",
			version.Version, version.Commit, version.BuildDate)
	case "status":
		err = app.cmdStatus(ctx)
	case "agents":
		err = app.cmdAgents(ctx)
	case "tasks":
		err = app.cmdTasks(ctx, rest)
	case "task":
		err = app.cmdTask(ctx, rest)
	case "board":
		err = app.cmdBoard(ctx)
	case "watch":
		err = app.cmdWatch(ctx, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `opsboard — operations board CLI

Usage:
  opsboard [flags] <command> [args]

Flags:
  --server <url>  server URL (default: http://localhost:9090)

Commands:
  version                   print version
  status                    show server status
  agents                    list agents
  tasks [flags]             list tasks (-status, -agent, -limit)
  task create <title>       create a task
  task move <id> <status>   move a task to a new status
  task delete <id>          delete a task
  board                     print the kanban board
  watch [flags]             live board view (-agent)
`)
}

type app struct {
	api     *client.Client
	baseURL string
}

func (a *app) cmdStatus(ctx context.Context) error {
	st, err := a.api.ServerStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("status:  %v\n", st["status"])
	fmt.Printf("version: %v\n", st["version"])
	if up, ok := st["uptime_seconds"]; ok {
		fmt.Printf("uptime:  %vs\n", up)
	}
	return nil
}

func (a *app) cmdAgents(ctx context.Context) error {
	agents, err := a.api.FetchAgents(ctx)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("no agents")
		return nil
	}
	fmt.Printf("%-20s %-20s %-10s %-20s\n", "ID", "NAME", "STATUS", "LAST SEEN")
	fmt.Println(strings.Repeat("-", 72))
	for _, ag := range agents {
		seen := "never"
		if !ag.LastSeenAt.IsZero() {
			seen = ag.LastSeenAt.Local().Format(time.DateTime)
		}
		fmt.Printf("%-20s %-20s %-10s %-20s\n", ag.ID, ag.Name, ag.Status, seen)
	}
	return nil
}

func (a *app) cmdTasks(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tasks", flag.ExitOnError)
	statusList := fs.String("status", "", "comma-separated status filter")
	agentID := fs.String("agent", "", "filter by assigned agent")
	limit := fs.Int("limit", 0, "max tasks to return")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := task.Filter{AssignedAgentID: *agentID, Limit: *limit}
	if *statusList != "" {
		for _, part := range strings.Split(*statusList, ",") {
			filter.Statuses = append(filter.Statuses, task.Status(strings.TrimSpace(part)))
		}
	}

	tasks, err := a.api.FetchTasks(ctx, filter)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	fmt.Printf("%-36s %-30s %-12s %-8s %-12s\n", "ID", "TITLE", "STATUS", "PRIO", "AGENT")
	fmt.Println(strings.Repeat("-", 100))
	for _, t := range tasks {
		fmt.Printf("%-36s %-30s %-12s %-8s %-12s\n",
			t.ID, truncate(t.Title, 29), t.Status, t.Priority, t.AssignedAgentID)
	}
	return nil
}

func (a *app) cmdTask(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: opsboard task <create|move|delete> ...")
	}
	switch sub := args[0]; sub {
	case "create":
		if len(args) < 2 {
			return fmt.Errorf("usage: opsboard task create <title>")
		}
		title := strings.Join(args[1:], " ")
		created, err := a.api.CreateTask(ctx, client.NewTask{Title: title})
		if err != nil {
			return err
		}
		fmt.Printf("created task %s in %s\n", created.ID, created.Status)
	case "move":
		if len(args) < 3 {
			return fmt.Errorf("usage: opsboard task move <id> <status>")
		}
		id, to := args[1], task.Status(args[2])
		if !task.IsKnown(to) {
			return fmt.Errorf("unknown status %q", to)
		}
		current, err := a.api.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if !task.IsValidTransition(current.Status, to) {
			return fmt.Errorf("cannot move %s from %s to %s (valid: %v)",
				id, current.Status, to, task.ValidNextStatuses(current.Status))
		}
		moved, err := a.api.MoveTask(ctx, id, current.Status, to)
		if err != nil {
			return err
		}
		fmt.Printf("moved task %s: %s -> %s\n", moved.ID, current.Status, moved.Status)
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: opsboard task delete <id>")
		}
		if err := a.api.DeleteTask(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("deleted task %s\n", args[1])
	default:
		return fmt.Errorf("unknown task subcommand: %s", sub)
	}
	return nil
}

func (a *app) cmdBoard(ctx context.Context) error {
	tasks, err := a.api.FetchTasks(ctx, task.Filter{})
	if err != nil {
		return err
	}
	printBoard(board.GroupTasks(tasks))
	return nil
}

// cmdWatch runs a live board: it hydrates a dashboard from the API, folds
// the server's SSE feed into it, and redraws whenever something changes.
func (a *app) cmdWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	agentID := fs.String("agent", "", "watch one agent's tasks only")
	if err := fs.Parse(args); err != nil {
		return err
	}

	changed := make(chan struct{}, 1)
	dash, err := board.NewDashboard(board.Config{
		Fetcher: a.api,
		Mutator: a.api,
		AgentID: *agentID,
		OnUpdate: func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	if err := dash.Refresh(ctx); err != nil {
		return err
	}
	if err := dash.Open(ctx, client.NewStream(a.baseURL)); err != nil {
		return err
	}
	defer dash.Close(context.Background()) //nolint:errcheck

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	render := func() {
		fmt.Print("\033[H\033[2J") // clear screen
		printBoard(dash.Grouping())
		fmt.Println()
		for i, act := range dash.Activities() {
			if i == 5 {
				break
			}
			fmt.Printf("  %s  %-18s %s\n",
				act.CreatedAt.Local().Format(time.TimeOnly), act.Type, act.Title)
		}
	}
	render()

	for {
		select {
		case <-sigCh:
			return nil
		case <-ctx.Done():
			return nil
		case <-changed:
			render()
		}
	}
}

func printBoard(g board.Grouping) {
	for _, st := range task.KanbanColumns {
		meta, _ := task.MetaFor(st)
		col := g[st]
		fmt.Printf("%s (%d)\n", meta.Label, len(col))
		for _, t := range col {
			agentPart := ""
			if t.AssignedAgentID != "" {
				agentPart = " @" + t.AssignedAgentID
			}
			fmt.Printf("  [%s] %s%s\n", t.Priority, truncate(t.Title, 50), agentPart)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
