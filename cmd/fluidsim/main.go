// Command fluidsim runs the thought-fluid simulation: serve starts the
// ticking loop behind the HTTP/WS/SSE adapter, divide runs a headless
// standing-wave division experiment, and bench measures raw tick throughput.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/fluidsim/internal/api"
	"github.com/san-kum/fluidsim/internal/config"
	"github.com/san-kum/fluidsim/internal/division"
	"github.com/san-kum/fluidsim/internal/kernel"
	"github.com/san-kum/fluidsim/internal/loop"
	"github.com/san-kum/fluidsim/internal/state"
)

var (
	configFile string
	preset     string
	port       int

	salinityBoost float64
	trials        int

	benchTicks int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fluidsim",
		Short: "real-time thought-fluid simulation",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "use a named vent preset")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "start the simulation loop and HTTP/WS/SSE adapter",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")

	divideCmd := &cobra.Command{
		Use:   "divide [dividend] [divisor]",
		Short: "run a headless standing-wave division experiment",
		Args:  cobra.ExactArgs(2),
		RunE:  runDivide,
	}
	divideCmd.Flags().Float64Var(&salinityBoost, "salinity-boost", 1.0, "salinity boost recorded in each trial's result (headless trials have no fluid to add it to)")
	divideCmd.Flags().IntVar(&trials, "trials", 1, "number of independent trials to run (ensemble mode)")

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "measure raw kernel tick throughput",
		RunE:  runBench,
	}
	benchCmd.Flags().IntVar(&benchTicks, "ticks", 10000, "number of ticks to run")

	rootCmd.AddCommand(serveCmd, divideCmd, benchCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if preset != "" {
		cfg := config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		return cfg, nil
	}
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.DefaultConfig(), nil
}

func buildLogger() *zap.Logger {
	log, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Port = port
	}

	log := buildLogger()
	defer log.Sync()

	fluid := state.New(cfg.Seed)
	fluid.PressureThreshold = cfg.PressureThreshold
	for _, v := range cfg.Vents {
		fluid.AddVent(v.Name, v.HeatOutput, v.Depth, v.Radius)
	}

	kcfg := kernel.DefaultConfig()
	kcfg.PressureThreshold = cfg.PressureThreshold
	kcfg.VentActivationPerTick = cfg.VentActivationPerTick

	l := loop.New(fluid, kcfg, log, cfg.TickHz)

	_, router := api.New(fluid, l, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Info("listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}
	log.Info("shutdown complete")
	return nil
}

func runDivide(cmd *cobra.Command, args []string) error {
	dividend, err := parsePositiveInt(args[0], "dividend")
	if err != nil {
		return err
	}
	divisor, err := parsePositiveInt(args[1], "divisor")
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRIAL\tQUOTIENT\tREMAINDER\tDIVISIBLE\tPEAK_JITTER\tVELOCITY_SIGMA\tTICKS_TO_SETTLE\tINTERPRETATION")

	results := runEnsemble(dividend, divisor, salinityBoost, trials)
	for t, r := range results {
		fmt.Fprintf(w, "%d\t%d\t%d\t%v\t%.6f\t%.6f\t%d\t%s\n",
			t, r.Quotient, r.Remainder, r.IsDivisible, r.PeakJitter, r.VelocitySigma, r.TicksToSettle, r.Interpretation)
	}
	return w.Flush()
}

// runEnsemble runs numRuns independent division experiments concurrently,
// one goroutine per trial, fanned out with a WaitGroup. Each trial gets its
// own rng seeded off its index, so results are reproducible per-trial
// regardless of scheduling order.
func runEnsemble(dividend, divisor int, salinityBoost float64, numRuns int) []division.Result {
	results := make([]division.Result, numRuns)

	var wg sync.WaitGroup
	for i := 0; i < numRuns; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(idx) + 1))
			exp := division.New(dividend, divisor, salinityBoost, rng)
			for !exp.Done() {
				exp.Step(kernel.Dt)
			}
			results[idx] = exp.Finalize()
		}(i)
	}
	wg.Wait()

	return results
}

func parsePositiveInt(s, field string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, fmt.Errorf("invalid %s: %s", field, s)
	}
	if v < 1 {
		return 0, fmt.Errorf("%s must be positive, got %d", field, v)
	}
	return v, nil
}

func runBench(cmd *cobra.Command, args []string) error {
	fluid := state.New(42)
	fluid.AddVent("bench-vent", 1.0, 0.8, 0.2)
	for i := 0; i < 50; i++ {
		fluid.InsertConcept(fmt.Sprintf("concept-%d", i), 0.3+0.02*float64(i%10), 1.0)
	}

	kcfg := kernel.DefaultConfig()

	start := time.Now()
	for i := 0; i < benchTicks; i++ {
		fluid.Lock()
		kernel.Step(fluid, kcfg)
		fluid.Unlock()
	}
	elapsed := time.Since(start)

	fmt.Printf("ticks: %d\n", benchTicks)
	fmt.Printf("elapsed: %v\n", elapsed)
	fmt.Printf("ticks/sec: %.0f\n", float64(benchTicks)/elapsed.Seconds())
	return nil
}
