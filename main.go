package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/samber/do/v2"
	"github.com/vreid/kurabe/internal/pkg/common"
	"github.com/vreid/kurabe/internal/pkg/coordinator"
	"github.com/vreid/kurabe/internal/pkg/engine"
	"github.com/vreid/kurabe/internal/pkg/oracle"
	"github.com/vreid/kurabe/internal/pkg/recordkeeper"

	"github.com/urfave/cli/v3"
)

type KurabeService struct {
	EchoService *common.EchoService `do:""`

	CoordinatorService  *coordinator.CoordinatorService   `do:""`
	RecordKeeperService *recordkeeper.RecordKeeperService `do:""`
}

//nolint:funlen
func runServer(_ context.Context, cmd *cli.Command) error {
	i := do.New()

	do.ProvideNamedValue(i, "port", cmd.Int("port"))
	do.ProvideNamedValue(i, "data-dir", cmd.String("data-dir"))

	do.ProvideNamedValue(i, "owner", cmd.String("owner"))
	do.ProvideNamedValue(i, "system-identity", cmd.String("system-identity"))
	do.ProvideNamedValue(i, "cooldown-seconds", cmd.Int("cooldown-seconds"))

	localEngine := engine.NewLocalEngine()
	localOracle := oracle.NewLocalOracle(localEngine, []byte(cmd.String("oracle-secret")))

	do.ProvideNamedValue[engine.Engine](i, "engine", localEngine)
	do.ProvideNamedValue[oracle.Client](i, "oracle-client", localOracle)
	do.ProvideNamedValue[oracle.Verifier](i, "oracle-verifier", localOracle)

	eventChan := make(chan coordinator.Event, 1000) //nolint:mnd
	var eventSource <-chan coordinator.Event = eventChan
	var eventSink chan<- coordinator.Event = eventChan

	do.ProvideNamedValue(i, "event-source", eventSource)
	do.ProvideNamedValue(i, "event-sink", eventSink)

	do.Provide(i, common.NewEchoService)
	do.Provide(i, common.NewDatabaseService)

	do.Provide(i, coordinator.NewCoordinatorService)
	do.Provide(i, recordkeeper.NewRecordKeeperService)

	do.Provide(i, do.InvokeStruct[KurabeService])

	kurabeService, err := do.Invoke[KurabeService](i)
	if err != nil {
		return fmt.Errorf("failed to create kurabe service: %w", err)
	}

	localOracle.SetCallback(func(requestID uint64, cleartext, proof []byte) error {
		_, err := kurabeService.CoordinatorService.Coordinator.OnDecrypted(requestID, cleartext, proof)

		return err
	})
	localOracle.Start(time.Duration(cmd.Int("oracle-interval-seconds")) * time.Second)

	kurabeService.RecordKeeperService.Start()

	//nolint:wrapcheck
	return kurabeService.EchoService.Start()
}

func main() {
	//nolint:exhaustruct
	cmd := &cli.Command{
		Name: "kurabe",
		Commands: []*cli.Command{
			{
				Name: "server",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Value:   3000, //nolint:mnd
						Sources: cli.EnvVars("KURABE_PORT"),
					},
					&cli.StringFlag{
						Name:    "data-dir",
						Value:   "./kurabe/data",
						Sources: cli.EnvVars("KURABE_DATA_DIR"),
					},
					&cli.StringFlag{
						Name:    "owner",
						Value:   "owner",
						Sources: cli.EnvVars("KURABE_OWNER"),
					},
					&cli.StringFlag{
						Name:    "system-identity",
						Value:   "kurabe",
						Sources: cli.EnvVars("KURABE_SYSTEM_IDENTITY"),
					},
					&cli.IntFlag{
						Name:    "cooldown-seconds",
						Value:   30, //nolint:mnd
						Sources: cli.EnvVars("KURABE_COOLDOWN_SECONDS"),
					},
					&cli.StringFlag{
						Name:    "oracle-secret",
						Value:   "secret",
						Sources: cli.EnvVars("KURABE_ORACLE_SECRET"),
					},
					&cli.IntFlag{
						Name:    "oracle-interval-seconds",
						Value:   2, //nolint:mnd
						Sources: cli.EnvVars("KURABE_ORACLE_INTERVAL_SECONDS"),
					},
				},
				Action: runServer,
			},
		},
		DefaultCommand: "server",
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
