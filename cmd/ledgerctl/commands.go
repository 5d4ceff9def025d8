package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/feedback-ledger/internal/app"
	"github.com/bigkaa/feedback-ledger/internal/config"
	"github.com/bigkaa/feedback-ledger/internal/domain/model"
	"github.com/bigkaa/feedback-ledger/internal/scheduler"
	"github.com/bigkaa/feedback-ledger/internal/service"
)

// errRetentionDisabled — retention вызвана без LEDGER_UPLOAD_DIR.
var errRetentionDisabled = errors.New("LEDGER_UPLOAD_DIR не задан, очистка загрузок отключена")

// runFunc — тело команды, получающее собранное приложение.
type runFunc func(cmd *cobra.Command, a *app.App, args []string) error

// cli хранит загрузчик конфигурации, общий для всех команд.
type cli struct {
	load func() (*config.Config, error)
}

// newRootCmd собирает дерево команд. load подменяется в тестах.
func newRootCmd(load func() (*config.Config, error)) *cobra.Command {
	c := &cli{load: load}

	root := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Обслуживание feedback-ledger",
		Long:         "Разовые операции над данными feedback-ledger: задачи планировщика, WAL, клиенты и обучение.",
		SilenceUsage: true,
	}

	root.AddCommand(
		c.sweepCmd(),
		c.triggerCmd(),
		c.approvedBatchCmd(),
		c.retentionCmd(),
		c.summaryCmd(),
		c.walCmd(),
		c.clientCmd(),
		c.trainCmd(),
		c.jobsCmd(),
		c.runCmd(),
	)
	return root
}

// withApp открывает приложение на время выполнения команды.
// Планировщик и HTTP-сервер не запускаются.
func (c *cli) withApp(fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := c.load()
		if err != nil {
			return fmt.Errorf("ошибка конфигурации: %w", err)
		}
		logger := config.NewLogger(cfg, os.Stderr)

		a, err := app.New(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

// printJSON выводит результат команды в stdout.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Авто-одобрить записи с истёкшим сроком решения администратора",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			n, err := a.Feedback.SweepDeadlines(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"auto_approved": n})
		}),
	}
}

// batchResult — результат выпуска батча; Run заполняется при --train.
type batchResult struct {
	Batch *model.RetrainBatch `json:"batch"`
	Run   *model.TrainingRun  `json:"run,omitempty"`
}

// emitAndTrain выводит выпущенный батч и при необходимости запускает обучение.
func emitAndTrain(cmd *cobra.Command, a *app.App, batch *model.RetrainBatch, train bool) error {
	res := batchResult{Batch: batch}
	if batch != nil && train {
		run, err := a.Training.Train(cmd.Context(), batch.BatchID)
		res.Run = run
		if err != nil {
			_ = printJSON(cmd, res)
			return err
		}
	}
	return printJSON(cmd, res)
}

func (c *cli) triggerCmd() *cobra.Command {
	var train bool
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Выпустить батч из секторов, если все секторы заполнены",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			batch, err := a.Trigger.CheckAndTrigger(cmd.Context())
			if err != nil {
				return err
			}
			return emitAndTrain(cmd, a, batch, train)
		}),
	}
	cmd.Flags().BoolVar(&train, "train", false, "запустить тренер на выпущенном батче")
	return cmd
}

func (c *cli) approvedBatchCmd() *cobra.Command {
	var train bool
	cmd := &cobra.Command{
		Use:   "approved-batch",
		Short: "Собрать батч из всех одобренных администратором записей",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			batch, err := a.Approved.Run(cmd.Context())
			if err != nil {
				return err
			}
			return emitAndTrain(cmd, a, batch, train)
		}),
	}
	cmd.Flags().BoolVar(&train, "train", false, "запустить тренер на выпущенном батче")
	return cmd
}

func (c *cli) retentionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retention",
		Short: "Удалить загруженные файлы старше срока хранения",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			if a.Retention == nil {
				return errRetentionDisabled
			}
			res, err := a.Retention.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}),
	}
}

func (c *cli) summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Сформировать еженедельный отчёт за последние 7 суток",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			summary, err := a.Summary.Generate(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		}),
	}
}

func (c *cli) walCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wal",
		Short: "Обслуживание журнала выпуска батчей",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "recover",
			Short: "Завершить или откатить незавершённые транзакции",
			Args:  cobra.NoArgs,
			RunE: c.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
				res, err := a.Recover(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int{
					"rolled_forward": res.RolledForward,
					"rolled_back":    res.RolledBack,
					"failed":         res.Failed,
				})
			}),
		},
		&cobra.Command{
			Use:   "clean",
			Short: "Удалить завершённые записи WAL",
			Args:  cobra.NoArgs,
			RunE: c.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
				n, err := a.WAL.CleanFinished()
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int{"cleaned": n})
			}),
		},
	)
	return cmd
}

func (c *cli) clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Управление клиентами API",
	}

	setStatus := func(block bool) runFunc {
		return func(cmd *cobra.Command, a *app.App, args []string) error {
			email := args[0]
			var ok bool
			var err error
			if block {
				ok, err = a.Clients.Block(cmd.Context(), email)
			} else {
				ok, err = a.Clients.Unblock(cmd.Context(), email)
			}
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: клиент %s", service.ErrNotFound, email)
			}
			return printJSON(cmd, map[string]any{"email": email, "blocked": block})
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <email>",
			Short: "Зарегистрировать клиента и выдать API-ключ",
			Args:  cobra.ExactArgs(1),
			RunE: c.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
				client, err := a.Clients.Create(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, client)
			}),
		},
		&cobra.Command{
			Use:   "block <email>",
			Short: "Заблокировать клиента",
			Args:  cobra.ExactArgs(1),
			RunE:  c.withApp(setStatus(true)),
		},
		&cobra.Command{
			Use:   "unblock <email>",
			Short: "Разблокировать клиента",
			Args:  cobra.ExactArgs(1),
			RunE:  c.withApp(setStatus(false)),
		},
		&cobra.Command{
			Use:   "list",
			Short: "Список клиентов",
			Args:  cobra.NoArgs,
			RunE: c.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
				clients, err := a.Clients.List(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, clients)
			}),
		},
	)
	return cmd
}

func (c *cli) trainCmd() *cobra.Command {
	var batch string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Запустить тренер на выпущенном батче",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			run, err := a.Training.Train(cmd.Context(), batch)
			if run != nil {
				_ = printJSON(cmd, run)
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&batch, "batch", "", "имя или идентификатор батча, например sector_batch_3")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

func (c *cli) jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "Список задач планировщика и их расписания",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			return printJSON(cmd, a.Scheduler.Jobs())
		}),
	}
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "run <job>",
		Short:     "Выполнить задачу планировщика немедленно",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{
			scheduler.JobDeadlines,
			scheduler.JobApprovedBatch,
			scheduler.JobWeeklySummary,
			scheduler.JobRetention,
			scheduler.JobWALCleanup,
		},
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			if _, err := a.Scheduler.RunNow(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"job": args[0], "status": "ok"})
		}),
	}
}
