package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/viralforge/config"
	"github.com/mohammad-safakhou/viralforge/internal/engine"
	"github.com/mohammad-safakhou/viralforge/internal/store"
	"github.com/mohammad-safakhou/viralforge/provider"
)

// sessionCMD is the operator/debug trigger path: create and drive sessions
// without going through the HTTP surface.
func sessionCMD() *cobra.Command {
	var cfgPath string
	var session = &cobra.Command{
		Use:   "session",
		Short: "Inspect and drive generation sessions",
	}
	session.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	var topic, platform, tone string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := buildOrchestrator(cfgPath)
			if err != nil {
				return err
			}
			s, err := orch.CreateSession(context.Background(), topic, platform, tone)
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}
	create.Flags().StringVar(&topic, "topic", "", "topic to generate content for")
	create.Flags().StringVar(&platform, "platform", "twitter", "target platform")
	create.Flags().StringVar(&tone, "tone", "conversational", "stylistic tone")
	_ = create.MarkFlagRequired("topic")

	var steps int
	advance := &cobra.Command{
		Use:   "advance <session-id>",
		Short: "Advance a session by one or more steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := buildOrchestrator(cfgPath)
			if err != nil {
				return err
			}
			for i := 0; i < steps; i++ {
				res, err := orch.Advance(context.Background(), args[0])
				if err != nil {
					if kind := engine.KindOf(err); kind != "" {
						fmt.Fprintf(os.Stderr, "advance failed (%s): %v\n", kind, err)
						return nil
					}
					return err
				}
				if err := printJSON(res); err != nil {
					return err
				}
				if res.Busy || res.NextStep == "" {
					return nil
				}
			}
			return nil
		},
	}
	advance.Flags().IntVar(&steps, "steps", 1, "number of steps to run")

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its phase records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, st, err := buildOrchestrator(cfgPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			s, err := orch.Session(ctx, args[0])
			if err != nil {
				return err
			}
			records, err := st.ListPhases(ctx, s.ID)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"session": s, "phases": records})
		},
	}

	session.AddCommand(create, advance, show)
	return session
}

func buildOrchestrator(cfgPath string) (*engine.Orchestrator, *store.Store, error) {
	cfg := config.LoadConfig(cfgPath)
	st, err := store.NewWithDSN(context.Background(), cfg.Storage.Postgres.DSN())
	if err != nil {
		return nil, nil, err
	}
	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(os.Stderr, "[ENGINE] ", log.LstdFlags)
	return engine.NewOrchestrator(st, llm, cfg.LLM.Routing, cfg.Engine, logger), st, nil
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
