package commands

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ruleforge/automation-core/app/supervisor"
)

func newSupervisorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supervisor",
		Short: "Enqueue and dispatch worker-process tasks",
	}
	cmd.AddCommand(
		newSupervisorEnqueueCommand(),
		newSupervisorEnqueueBatchCommand(),
		newSupervisorDrainCommand(),
		newSupervisorExecuteQueueCommand(),
		newSupervisorCancelCommand(),
		newSupervisorListCommand(),
		newSupervisorResultsCommand(),
		newSupervisorKillAgentsCommand(),
		newSupervisorCheckTaskStatusCommand(),
		newSupervisorGetTaskResultCommand(),
		newSupervisorGetAllResultsCommand(),
		newSupervisorGetRecentTasksCommand(),
		newSupervisorProcessQueueCommand(),
		newSupervisorMarkInProgressCommand(),
		newSupervisorUpdateTaskCommand(),
		newSupervisorLogTaskCompletionCommand(),
	)
	return cmd
}

func newSupervisorExecuteQueueCommand() *cobra.Command {
	var parallel int
	var agentID string
	cmd := &cobra.Command{
		Use:   "execute-queue",
		Short: "Claim and run queued tasks, partitioned by agent id across up to 3 concurrency slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			sup := buildSupervisor(cfg)
			errs, err := sup.ExecuteQueue(cmd.Context(), parallel, agentID)
			if err != nil {
				if errors.Is(err, supervisor.ErrAlreadyRunning) {
					return printJSON(map[string]any{"status": "already_running"})
				}
				return err
			}
			messages := make([]string, 0, len(errs))
			for _, e := range errs {
				messages = append(messages, e.Error())
			}
			return printJSON(map[string]any{"status": "success", "errors": messages})
		},
	}
	cmd.Flags().IntVar(&parallel, "parallel", 1, "number of concurrent agent buckets, clamped to [1,3]")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "claim only tasks assigned to this agent id")
	return cmd
}

func newSupervisorCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Remove a still-queued task from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			queue := &supervisor.Queue{Path: cfg.TaskQueueFile}
			if err := queue.CancelTask(args[0]); err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "success"})
		},
	}
}

func newSupervisorListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every task currently tracked by the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			queue := &supervisor.Queue{Path: cfg.TaskQueueFile}
			tasks, err := queue.List()
			if err != nil {
				return err
			}
			return printJSON(tasks)
		},
	}
}

func newSupervisorResultsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List archived task results, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			sup := buildSupervisor(cfg)
			results, err := sup.GetRecentTasks(limit)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max results to return (0 = all)")
	return cmd
}

func newSupervisorKillAgentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kill-agents",
		Short: "Send SIGKILL to every worker process this supervisor has spawned",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			sup := buildSupervisor(cfg)
			errs := sup.KillAgents()
			messages := make([]string, 0, len(errs))
			for _, e := range errs {
				messages = append(messages, e.Error())
			}
			return printJSON(map[string]any{"status": "success", "errors": messages})
		},
	}
}

func newSupervisorEnqueueCommand() *cobra.Command {
	var paramsFlag, category, description string
	var tags []string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Add a task to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			payload, err := readParams(paramsFlag)
			if err != nil {
				return err
			}
			queue := &supervisor.Queue{Path: cfg.TaskQueueFile}
			task := supervisor.Task{
				ID:          supervisor.NewTaskID(),
				Category:    category,
				Description: description,
				ProjectTags: tags,
				Payload:     payload,
			}
			if err := queue.Enqueue(cmd.Context(), task); err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "success", "task_id": task.ID})
		},
	}
	cmd.Flags().StringVar(&paramsFlag, "params", "", "task payload as JSON (reads stdin if omitted)")
	cmd.Flags().StringVar(&category, "category", "", "task category, archived alongside the result")
	cmd.Flags().StringVar(&description, "description", "", "task description, scanned for #tag and REQUEST_ID mentions at completion")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "project tags, archived alongside the result")
	return cmd
}

func newSupervisorEnqueueBatchCommand() *cobra.Command {
	var paramsFlag, category string
	var tags []string
	var batchSize int
	cmd := &cobra.Command{
		Use:   "enqueue-batch",
		Short: "Split a list of task payloads into batches and enqueue every task",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			params, err := readParams(paramsFlag)
			if err != nil {
				return err
			}
			rawTasks, _ := params["tasks"].([]any)
			payloads := make([]map[string]any, 0, len(rawTasks))
			for _, rt := range rawTasks {
				payload, ok := rt.(map[string]any)
				if !ok {
					return errors.New("each entry in \"tasks\" must be a JSON object")
				}
				payloads = append(payloads, payload)
			}
			queue := &supervisor.Queue{Path: cfg.TaskQueueFile}
			batchIDs, err := queue.EnqueueBatch(cmd.Context(), payloads, category, tags, batchSize)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "success", "task_count": len(payloads), "batch_ids": batchIDs})
		},
	}
	cmd.Flags().StringVar(&paramsFlag, "params", "", `{"tasks": [...]} as JSON (reads stdin if omitted)`)
	cmd.Flags().StringVar(&category, "category", "", "task category, archived alongside the result")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "project tags, archived alongside the result")
	cmd.Flags().IntVar(&batchSize, "batch-size", supervisor.DefaultBatchSize, "max tasks sharing one batch id")
	return cmd
}

func newSupervisorDrainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Claim and run every queued task once, blocking until the pool finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			sup := buildSupervisor(cfg)
			errs := sup.DrainOnce(cmd.Context())
			messages := make([]string, 0, len(errs))
			for _, e := range errs {
				messages = append(messages, e.Error())
			}
			return printJSON(map[string]any{"status": "success", "errors": messages})
		},
	}
}

func newSupervisorCheckTaskStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-task-status <task-id>",
		Short: "Report a single task's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			queue := &supervisor.Queue{Path: cfg.TaskQueueFile}
			task, ok, err := queue.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return printJSON(map[string]any{"found": false})
			}
			return printJSON(map[string]any{"found": true, "task": task})
		},
	}
}

func newSupervisorGetTaskResultCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-task-result <task-id>",
		Short: "Fetch one task's archived result, from the results file or the overflow archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			sup := buildSupervisor(cfg)
			entry, ok, err := sup.GetTaskResult(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return printJSON(map[string]any{"found": false})
			}
			return printJSON(map[string]any{"found": true, "result": entry})
		},
	}
}

func newSupervisorGetAllResultsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-all-results",
		Short: "List every archived result: the capped results file plus the JSON-lines overflow archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			sup := buildSupervisor(cfg)
			results, err := sup.GetAllResults()
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
}

func newSupervisorGetRecentTasksCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "get-recent-tasks",
		Short: "List the most recently completed task results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			sup := buildSupervisor(cfg)
			results, err := sup.GetRecentTasks(limit)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "max results to return")
	return cmd
}

func newSupervisorProcessQueueCommand() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "process-queue",
		Short: "Claim every queued task (optionally filtered by agent id) without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			queue := &supervisor.Queue{Path: cfg.TaskQueueFile}
			claimed, err := queue.Claim(agentID)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "success", "claimed": claimed})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "claim only tasks assigned to this agent id")
	return cmd
}

func newSupervisorMarkInProgressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-in-progress <task-id>",
		Short: "Stamp the moment a worker begins processing a claimed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			queue := &supervisor.Queue{Path: cfg.TaskQueueFile}
			if err := queue.MarkInProgress(args[0]); err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "success"})
		},
	}
}

func newSupervisorUpdateTaskCommand() *cobra.Command {
	var paramsFlag string
	cmd := &cobra.Command{
		Use:   "update-task <task-id>",
		Short: "Replace a still-queued task's category, description, tags, or payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			updates, err := readParams(paramsFlag)
			if err != nil {
				return err
			}
			queue := &supervisor.Queue{Path: cfg.TaskQueueFile}
			err = queue.UpdateTask(args[0], func(t supervisor.Task) supervisor.Task {
				if category, ok := updates["category"].(string); ok {
					t.Category = category
				}
				if description, ok := updates["description"].(string); ok {
					t.Description = description
				}
				if rawTags, ok := updates["project_tags"].([]any); ok {
					tags := make([]string, 0, len(rawTags))
					for _, rt := range rawTags {
						if tag, ok := rt.(string); ok {
							tags = append(tags, tag)
						}
					}
					t.ProjectTags = tags
				}
				if payload, ok := updates["payload"].(map[string]any); ok {
					t.Payload = payload
				}
				return t
			})
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "success"})
		},
	}
	cmd.Flags().StringVar(&paramsFlag, "params", "", "fields to update as JSON (reads stdin if omitted)")
	return cmd
}

func newSupervisorLogTaskCompletionCommand() *cobra.Command {
	var status, outputFlag string
	cmd := &cobra.Command{
		Use:   "log-task-completion <task-id>",
		Short: "Record a worker-reported result for a task, same path a worker's own result file would take",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			var output map[string]any
			if outputFlag != "" {
				if err := json.Unmarshal([]byte(outputFlag), &output); err != nil {
					return errors.Wrap(err, "decode --output JSON")
				}
			}
			sup := buildSupervisor(cfg)
			result := supervisor.TaskResult{Status: status, Output: output}
			if err := sup.LogTaskCompletion(args[0], result); err != nil {
				return err
			}
			return printJSON(map[string]any{"status": "success"})
		},
	}
	cmd.Flags().StringVar(&status, "status", "completed", "worker-reported status (completed/complete/done normalize to done, anything else to error)")
	cmd.Flags().StringVar(&outputFlag, "output", "", "task output as JSON")
	return cmd
}
