// Elemem — closed-loop brain-stimulation controller.
//
// Usage:
//
//	elemem -config experiment.json [-verbose] [-quiet]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/elemem-bci/elemem/internal/config"
	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/eventlog"
	"github.com/elemem-bci/elemem/internal/logger"
)

// Exit codes per spec.md §6.
const (
	exitSuccess     = 0
	exitFatal       = -1
	exitRecoverable = -2
	exitUnhandled   = -3
)

func main() {
	verbose := flag.Bool("verbose", false, "enable verbose/debug logging")
	quiet := flag.Bool("quiet", false, "disable all logging")
	configPath := flag.String("config", "experiment.json", "path to the experiment config JSON")
	journalPath := flag.String("journal", "elemem.jsonl", "path to the append-only event journal")
	frequenciesFlag := flag.String("frequencies-hz", "4,8,13,30,70", "comma-separated feature frequency list, Hz")
	flag.Parse()

	logLevel := logger.LevelNormal
	if *verbose {
		logLevel = logger.LevelVerbose
	}
	if *quiet {
		logLevel = logger.LevelOff
	}
	log := logger.New(logLevel, os.Stderr)

	code := run(log, *configPath, *journalPath, *frequenciesFlag)
	os.Exit(code)
}

func run(log *logger.Logger, configPath, journalPath, frequenciesFlag string) int {
	defer func() {
		if r := recover(); r != nil {
			log.Error("unhandled exception: %v", r)
			os.Exit(exitUnhandled)
		}
	}()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("loading config: %v", err)
		return exitFatal
	}

	montage, err := config.LoadMontage(cfg.ElectrodeConfigFile)
	if err != nil {
		log.Error("loading montage: %v", err)
		return exitFatal
	}
	labelIndex := config.LabelIndex(montage)

	var pairs []domain.BipolarPair
	if cfg.BipolarElectrodeConfigFile != "" {
		entries, err := config.LoadBipolar(cfg.BipolarElectrodeConfigFile, labelIndex)
		if err != nil {
			log.Error("loading bipolar montage: %v", err)
			return exitFatal
		}
		for _, e := range entries {
			pairs = append(pairs, e.Pair)
		}
	}

	channels := make([]config.ResolvedStimChannel, 0, len(cfg.StimChannels))
	for _, sc := range cfg.StimChannels {
		resolved, err := sc.Resolve(labelIndex)
		if err != nil {
			log.Error("resolving stim channel: %v", err)
			return exitFatal
		}
		channels = append(channels, resolved)
	}

	frequencies, err := parseFrequencies(frequenciesFlag)
	if err != nil {
		log.Error("parsing -frequencies-hz: %v", err)
		return exitFatal
	}

	handler, err := eventlog.Build(log, journalPath, cfg, channels, pairs, frequencies)
	if err != nil {
		log.Error("building session: %v", err)
		return exitFatal
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("signal received, stopping session")
		handler.Stop()
	}()

	if err := handler.Run(ctx); err != nil {
		log.Error("session failed: %v", err)
		if derr, ok := err.(*domain.Error); ok && derr.Kind == domain.KindFatal {
			return exitFatal
		}
		return exitRecoverable
	}

	return exitSuccess
}

func parseFrequencies(s string) ([]float64, error) {
	var out []float64
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			tok := s[start:i]
			start = i + 1
			if tok == "" {
				continue
			}
			var f float64
			if _, err := fmt.Sscanf(tok, "%g", &f); err != nil {
				return nil, fmt.Errorf("invalid frequency %q: %w", tok, err)
			}
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no frequencies parsed from %q", s)
	}
	return out, nil
}
