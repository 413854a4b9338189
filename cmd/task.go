package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/pomo/internal/models"
	"github.com/joescharf/pomo/internal/output"
	"github.com/joescharf/pomo/internal/tasks"
)

var (
	taskDescription string
	taskEstimate    int
	taskEstimateAI  bool
	taskListAll     bool

	taskEditTitle       string
	taskEditDescription string
	taskEditEstimate    int
	taskEditCompleted   int
	taskEditStatus      string
	taskEditCancel      bool
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task with an estimated number of pomodoros",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskAddRun(strings.Join(args, " "), taskDescription, taskEstimate, taskEstimateAI)
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskListRun(taskListAll)
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task and its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskShowRun(args[0])
	},
}

var taskEditCmd = &cobra.Command{
	Use:   "edit <task-id>",
	Short: "Edit a task's title, description, counts or status",
	Long: `Edit a task. Only the flags given are changed. The status is re-derived
from the pomodoro counts, except that --cancel (or --status cancelled) drops
the task until another status is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		var u tasks.Update
		if flags.Changed("title") {
			u.Title = &taskEditTitle
		}
		if flags.Changed("description") {
			u.Description = &taskEditDescription
		}
		if flags.Changed("estimate") {
			u.EstimatedPomodoros = &taskEditEstimate
		}
		if flags.Changed("completed") {
			u.CompletedPomodoros = &taskEditCompleted
		}
		if flags.Changed("status") {
			status := models.TaskStatus(taskEditStatus)
			u.Status = &status
		}
		if taskEditCancel {
			status := models.TaskStatusCancelled
			u.Status = &status
		}
		return taskEditRun(args[0], u)
	},
}

var taskRmCmd = &cobra.Command{
	Use:     "rm <task-id>",
	Aliases: []string{"remove"},
	Short:   "Delete a task and its sessions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskRmRun(args[0])
	},
}

func init() {
	taskAddCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "Task description")
	taskAddCmd.Flags().IntVarP(&taskEstimate, "estimate", "e", 1, "Estimated pomodoros")
	taskAddCmd.Flags().BoolVar(&taskEstimateAI, "estimate-ai", false, "Ask the configured Anthropic model for the estimate")
	taskListCmd.Flags().BoolVarP(&taskListAll, "all", "a", false, "Include cancelled tasks")
	taskEditCmd.Flags().StringVarP(&taskEditTitle, "title", "t", "", "New title")
	taskEditCmd.Flags().StringVarP(&taskEditDescription, "description", "d", "", "New description")
	taskEditCmd.Flags().IntVarP(&taskEditEstimate, "estimate", "e", 0, "New estimated pomodoros")
	taskEditCmd.Flags().IntVar(&taskEditCompleted, "completed", 0, "New completed pomodoros")
	taskEditCmd.Flags().StringVar(&taskEditStatus, "status", "", "Status: pending, in_progress, completed or cancelled")
	taskEditCmd.Flags().BoolVar(&taskEditCancel, "cancel", false, "Cancel the task")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskEditCmd)
	taskCmd.AddCommand(taskRmCmd)
	rootCmd.AddCommand(taskCmd)
}

func taskService() (*tasks.Service, string, error) {
	s, err := getStore()
	if err != nil {
		return nil, "", err
	}
	userID, err := currentUser()
	if err != nil {
		return nil, "", err
	}
	return tasks.New(s), userID, nil
}

func taskAddRun(title, description string, estimate int, useAI bool) error {
	svc, userID, err := taskService()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	if useAI {
		client := newLLMClient()
		if client == nil {
			return fmt.Errorf("--estimate-ai needs an Anthropic API key (anthropic.api_key or ANTHROPIC_API_KEY)")
		}
		engine, _, err := cliEngine()
		if err != nil {
			return err
		}
		est, err := client.EstimatePomodoros(ctx, title, description, engine.Duration())
		if err != nil {
			return fmt.Errorf("estimate pomodoros: %w", err)
		}
		estimate = est.Pomodoros
		ui.VerboseLog("Estimate: %s", est.Reasoning)
	}

	task := &models.Task{
		UserID:             userID,
		Title:              title,
		Description:        description,
		EstimatedPomodoros: estimate,
	}
	if err := svc.Create(ctx, task); err != nil {
		return err
	}
	ui.Success("Added task %s: %s (%d pomodoros)", output.Cyan(task.ID), task.Title, task.EstimatedPomodoros)
	return nil
}

func taskListRun(all bool) error {
	svc, userID, err := taskService()
	if err != nil {
		return err
	}

	list, err := svc.List(cmdContext(), userID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		ui.Info("No tasks. Use 'pomo task add <title>' to create one.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Progress", "Status"})
	for _, t := range list {
		if t.Status == models.TaskStatusCancelled && !all {
			continue
		}
		_ = table.Append([]string{
			t.ID,
			t.Title,
			output.Progress(t.CompletedPomodoros, t.EstimatedPomodoros),
			output.StatusColor(string(t.Status)),
		})
	}
	return table.Render()
}

func taskShowRun(taskID string) error {
	svc, userID, err := taskService()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	t, err := svc.Get(ctx, taskID, userID)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(t.ID), t.Title)
	if t.Description != "" {
		fmt.Fprintf(ui.Out, "  %s\n", t.Description)
	}
	fmt.Fprintf(ui.Out, "  Status:   %s\n", output.StatusColor(string(t.Status)))
	fmt.Fprintf(ui.Out, "  Progress: %s\n", output.Progress(t.CompletedPomodoros, t.EstimatedPomodoros))
	fmt.Fprintln(ui.Out)

	engine, _, err := cliEngine()
	if err != nil {
		return err
	}
	sessions, err := engine.Sessions(ctx, userID)
	if err != nil {
		return err
	}
	var forTask []*models.PomodoroSession
	for _, s := range sessions {
		if s.TaskID == t.ID {
			forTask = append(forTask, s)
		}
	}
	if len(forTask) == 0 {
		ui.Info("No sessions yet. Use 'pomo start %s' to begin.", t.ID)
		return nil
	}
	return renderSessions(forTask)
}

func taskEditRun(taskID string, u tasks.Update) error {
	svc, userID, err := taskService()
	if err != nil {
		return err
	}
	t, err := svc.Update(cmdContext(), taskID, userID, u)
	if err != nil {
		return err
	}
	ui.Success("Updated task %s: %s (%s, %s)", output.Cyan(t.ID), t.Title,
		output.Progress(t.CompletedPomodoros, t.EstimatedPomodoros), output.StatusColor(string(t.Status)))
	return nil
}

func taskRmRun(taskID string) error {
	svc, userID, err := taskService()
	if err != nil {
		return err
	}
	if err := svc.Delete(cmdContext(), taskID, userID); err != nil {
		return err
	}
	ui.Success("Deleted task %s", taskID)
	return nil
}
