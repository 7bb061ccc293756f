package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vincentgrobler/crewform-sub000/internal/config"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskAddCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskCancelCmd())
	return cmd
}

func newTaskAddCmd() *cobra.Command {
	var (
		workspace   string
		title       string
		description string
		priority    int
		agentID     string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Queue a task for execution",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" || title == "" {
				return errors.New("--workspace and --title are required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			t := models.Task{
				WorkspaceID: workspace,
				Title:       title,
				Description: description,
				Priority:    priority,
			}
			if agentID != "" {
				t.AgentID = &agentID
			}
			created, err := st.CreateTask(cmd.Context(), t)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Queued task %s (%q)\n", created.ID, created.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace ID")
	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.Flags().StringVar(&description, "description", "", "Task description (becomes part of the prompt)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority (higher is claimed first)")
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent ID to execute the task")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var workspace string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" {
				return errors.New("--workspace is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			tasks, err := st.ListTasks(cmd.Context(), workspace, limit)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
				return nil
			}
			for _, t := range tasks {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s [%s] %s\n", t.ID, t.Status, t.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max tasks to list")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one task, including result or error",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("--id is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			t, err := st.GetTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Task:     %s\n", t.ID)
			_, _ = fmt.Fprintf(out, "Title:    %s\n", t.Title)
			_, _ = fmt.Fprintf(out, "Status:   %s\n", t.Status)
			if t.RunnerID != nil {
				_, _ = fmt.Fprintf(out, "Runner:   %s\n", *t.RunnerID)
			}
			if t.Result != nil {
				_, _ = fmt.Fprintf(out, "Result:\n%s\n", *t.Result)
			}
			if t.Error != nil {
				_, _ = fmt.Fprintf(out, "Error:    %s\n", *t.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Task ID")
	return cmd
}

func newTaskCancelCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a task (no-op once terminal)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("--id is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.CancelTask(cmd.Context(), id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancelled task %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Task ID")
	return cmd
}
