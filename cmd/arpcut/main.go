// Command arpcut starts the ARP spoofing engine and its HTTP command
// surface.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackfin-labs/arpcut/internal/controller"
	"github.com/blackfin-labs/arpcut/internal/httpapi"
	"github.com/blackfin-labs/arpcut/internal/iface"
	"github.com/blackfin-labs/arpcut/internal/linklayer"
	"github.com/blackfin-labs/arpcut/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const startExample = "arpcut start --port 8080 --attack-interval 1000 --scan-interval 5000"

var (
	port           int
	attackInterval int
	scanInterval   int
	logLevel       string
	logFile        string

	rootCMD = &cobra.Command{
		Use:   "arpcut",
		Short: "LAN-level ARP spoofing access-control engine",
	}

	startCMD = &cobra.Command{
		Use:     "start",
		Short:   "Start the ARP engine and its HTTP command surface",
		Example: startExample,
		RunE:    runStart,
	}
)

func init() {
	startCMD.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listening port")
	startCMD.Flags().IntVarP(&attackInterval, "attack-interval", "a", 1000,
		"Milliseconds between each flow's forged ARP replies")
	startCMD.Flags().IntVarP(&scanInterval, "scan-interval", "s", 5000,
		"Minimum milliseconds between successive scan sweeps")
	startCMD.Flags().StringVarP(&logLevel, "log-level", "v", "info",
		"Logging level. Valid values: debug, info, warn, error, panic, fatal")
	startCMD.Flags().StringVarP(&logFile, "log-file", "l", "",
		"Where to send logs. Defaults to stdout/stderr")

	rootCMD.AddCommand(startCMD)
}

func main() {
	if err := rootCMD.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	var outputs []string
	if logFile != "" {
		outputs = []string{logFile}
	}
	log, err := logging.New(logLevel, outputs, outputs)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	link := linklayer.NewPcapLink(log)
	defer link.Close()

	ctrl := controller.New(controller.Config{
		AttackInterval: time.Duration(attackInterval) * time.Millisecond,
		ScanInterval:   time.Duration(scanInterval) * time.Millisecond,
	}, iface.SystemLister{}, link, log)

	quit := make(chan struct{})
	srv := httpapi.NewServer(ctrl, log, func() { close(quit) })

	httpSrv := &http.Server{
		Addr:    net.JoinHostPort("", fmt.Sprintf("%d", port)),
		Handler: srv.Router(),
	}

	go func() {
		log.Info("listening", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		log.Info("received shutdown signal")
	case <-quit:
		log.Info("received quit command")
	}

	// Graceful-shutdown invariant: no target may be left poisoned
	// when the process exits.
	ctrl.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error("error shutting down http server", zap.Error(err))
	}

	return nil
}
