package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errNoBackends = errors.New("no pinning backends configured (see pinning.backends in the config file)")

func init() {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check every pinning backend",
		Run:   runHealth,
	}

	RootCmd.AddCommand(cmd)
}

func runHealth(cmd *cobra.Command, args []string) {
	a := openApp(true)
	defer a.Close()
	if a.manager == nil {
		exitErr("health", errNoBackends)
	}

	health := a.manager.Health(cmd.Context())
	healthy := 0
	for _, h := range health {
		if h.IsHealthy {
			healthy++
		}
	}
	quorum := a.manager.Quorum()
	if textOutput() {
		for _, h := range health {
			status := "ok"
			if !h.IsHealthy {
				status = "down: " + h.LastError
			}
			fmt.Printf("%-16s %s\n", h.Name, status)
		}
		fmt.Printf("%d of %d healthy, quorum needs %d\n", healthy, len(health), quorum.RequiredSuccessCount)
		return
	}
	printJSON(map[string]any{
		"backends":  health,
		"healthy":   healthy,
		"required":  quorum.RequiredSuccessCount,
		"reachable": healthy >= quorum.RequiredSuccessCount,
	})
}
