package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"organiza/internal/model"
	"organiza/internal/store"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
	}
	day := add.Flags().String("day", "", "day key (YYYY-MM-DD, defaults to today)")
	start := add.Flags().String("start", "", "start time (HH:MM)")
	end := add.Flags().String("end", "", "end time (HH:MM)")
	recurrence := add.Flags().String("recurrence", "", "recurrence (daily, weekly, monthly)")
	add.RunE = func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st *store.Store) error {
			ctx := cmd.Context()
			dayKey := *day
			if dayKey == "" {
				dayKey = time.Now().Format("2006-01-02")
			}
			task, err := st.CreateTask(ctx, args[0], dayKey)
			if err != nil {
				return err
			}
			upd := store.TaskUpdate{}
			changed := false
			if *start != "" {
				upd.TimeStart = start
				changed = true
			}
			if *end != "" {
				upd.TimeEnd = end
				changed = true
			}
			if *recurrence != "" {
				upd.Recurrence = recurrence
				changed = true
			}
			if changed {
				if task, err = st.UpdateTask(ctx, task.ID, upd); err != nil {
					return err
				}
			}
			fmt.Printf("Created task %s (%s)\n", task.ID, task.TimeLabel)
			return nil
		})
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks for a day",
	}
	listDay := list.Flags().String("day", "", "day key (YYYY-MM-DD, defaults to today)")
	listAll := list.Flags().Bool("all", false, "list every task")
	list.RunE = func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st *store.Store) error {
			ctx := cmd.Context()
			var tasks []model.Task
			var err error
			if *listAll {
				tasks, err = st.Tasks(ctx)
			} else {
				dayKey := *listDay
				if dayKey == "" {
					dayKey = time.Now().Format("2006-01-02")
				}
				tasks, err = st.TasksForDay(ctx, dayKey)
			}
			if err != nil {
				return err
			}
			for _, t := range tasks {
				marker := " "
				if t.Status == model.TaskDone {
					marker = "x"
				}
				kind := ""
				if t.IsTemplate() {
					kind = " [template " + t.Recurrence + "]"
				}
				timer := ""
				if t.IsTimerRunning {
					timer = " [timer]"
				}
				fmt.Printf("[%s] %s  %-12s %s%s%s\n", marker, t.ID, t.TimeLabel, t.Title, kind, timer)
			}
			return nil
		})
	}

	done := &cobra.Command{
		Use:   "done <id>",
		Short: "Toggle task completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				task, err := st.ToggleTaskDone(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", task.ID, task.Status)
				return nil
			})
		},
	}

	timerStart := &cobra.Command{
		Use:   "start <id>",
		Short: "Start the task timer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				task, err := st.StartTimer(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Timer running on %s\n", task.ID)
				return nil
			})
		},
	}

	timerStop := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop the task timer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				task, err := st.StopTimer(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if task == nil {
					fmt.Println("No timer running.")
					return nil
				}
				fmt.Printf("Time spent on %s: %s\n", task.ID, (time.Duration(task.TimeSpent) * time.Millisecond).Round(time.Second))
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				if err := st.DeleteTask(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Println("Deleted.")
				return nil
			})
		},
	}

	cmd.AddCommand(add, list, done, timerStart, timerStop, del)
	return cmd
}

func noteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Manage notes",
	}

	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a note",
		Args:  cobra.ExactArgs(1),
	}
	body := add.Flags().String("body", "", "note body")
	color := add.Flags().String("color", "", "color tag")
	add.RunE = func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st *store.Store) error {
			note, err := st.CreateNote(cmd.Context(), args[0], *body, *color)
			if err != nil {
				return err
			}
			fmt.Printf("Created note %s\n", note.ID)
			return nil
		})
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				notes, err := st.Notes(cmd.Context())
				if err != nil {
					return err
				}
				for _, n := range notes {
					fmt.Printf("%s  %s\n", n.ID, n.Title)
				}
				return nil
			})
		},
	}

	link := &cobra.Command{
		Use:   "link <note-id> <task-id>",
		Short: "Attach a note to a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				if err := st.LinkNoteToTask(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Println("Linked.")
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a note and detach it everywhere",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				if err := st.DeleteNote(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Println("Deleted.")
				return nil
			})
		},
	}

	cmd.AddCommand(add, list, link, del)
	return cmd
}

func inboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Capture and triage inbox items",
	}

	add := &cobra.Command{
		Use:   "add <text>",
		Short: "Capture an inbox item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				item, err := st.AddInboxItem(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Captured %s\n", item.ID)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List inbox items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				items, err := st.InboxItems(cmd.Context())
				if err != nil {
					return err
				}
				for _, item := range items {
					fmt.Printf("%s  %s\n", item.ID, item.Text)
				}
				return nil
			})
		},
	}

	toTask := &cobra.Command{
		Use:   "to-task <id>",
		Short: "Promote an inbox item to a task",
		Args:  cobra.ExactArgs(1),
	}
	toTaskDay := toTask.Flags().String("day", "", "day key (YYYY-MM-DD, defaults to today)")
	toTask.RunE = func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st *store.Store) error {
			dayKey := *toTaskDay
			if dayKey == "" {
				dayKey = time.Now().Format("2006-01-02")
			}
			task, err := st.PromoteInboxToTask(cmd.Context(), args[0], dayKey)
			if err != nil {
				return err
			}
			fmt.Printf("Created task %s\n", task.ID)
			return nil
		})
	}

	toNote := &cobra.Command{
		Use:   "to-note <id>",
		Short: "Promote an inbox item to a note",
		Args:  cobra.ExactArgs(1),
	}
	toNoteColor := toNote.Flags().String("color", "", "color tag")
	toNote.RunE = func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st *store.Store) error {
			ctx := cmd.Context()
			item, err := st.GetInboxItem(ctx, args[0])
			if err != nil {
				return err
			}
			note, err := st.PromoteInboxToNote(ctx, args[0], item.Text, "", *toNoteColor)
			if err != nil {
				return err
			}
			fmt.Printf("Created note %s\n", note.ID)
			return nil
		})
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Discard an inbox item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				if err := st.DeleteInboxItem(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Println("Discarded.")
				return nil
			})
		},
	}

	cmd.AddCommand(add, list, toTask, toNote, del)
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage long-range plans",
	}

	add := &cobra.Command{
		Use:   "add [title]",
		Short: "Create a plan",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				title := ""
				if len(args) > 0 {
					title = args[0]
				}
				plan, err := st.CreatePlan(cmd.Context(), title)
				if err != nil {
					return err
				}
				fmt.Printf("Created plan %s (%s)\n", plan.ID, plan.Title)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				plans, err := st.Plans(cmd.Context())
				if err != nil {
					return err
				}
				for _, p := range plans {
					fmt.Printf("%s  [%s] %s\n", p.ID, p.Status, p.Title)
				}
				return nil
			})
		},
	}

	archive := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				status := model.PlanArchived
				if _, err := st.UpdatePlan(cmd.Context(), args[0], store.PlanUpdate{Status: &status}); err != nil {
					return err
				}
				fmt.Println("Archived.")
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				if err := st.DeletePlan(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Println("Deleted.")
				return nil
			})
		},
	}

	cmd.AddCommand(add, list, archive, del)
	return cmd
}

// withStore loads config, opens the store, runs fn and closes the store.
func withStore(cmd *cobra.Command, fn func(st *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}
