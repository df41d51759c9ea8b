// Command refindex trains and queries prism refractive-index models.
//
// Usage:
//
//	refindex train -data ./dataset -clustering som -optimization hybrid
//	refindex predict -model trained_models/run_.../models/pretrained_model.gob -image Rn_1.52.png
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prismlab/refindex/cluster"
	"github.com/prismlab/refindex/pkg/errors"
	"github.com/prismlab/refindex/pkg/log"
	"github.com/prismlab/refindex/pkg/runctl"
	"github.com/prismlab/refindex/trainer"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "train":
		err = runTrain(os.Args[2:])
	case "predict":
		err = runPredict(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, errors.ErrInterrupted) {
			fmt.Fprintln(os.Stderr, "interrupted")
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: refindex <train|predict> [flags]")
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	dataDir := fs.String("data", "", "directory of labeled Rn_*.png images")
	clustering := fs.String("clustering", "kmeans", "clustering method: kmeans or som")
	optimization := fs.String("optimization", "hybrid", "search method: bayesian, tpe or hybrid")
	trials := fs.Int("trials", 100, "TPE trial budget")
	timeout := fs.Duration("timeout", 2*time.Hour, "TPE stage wall-clock limit")
	folds := fs.Int("folds", 3, "cross-validation folds")
	modelDir := fs.String("model-dir", "trained_models", "output directory for run artifacts")
	userDir := fs.String("user-dir", "", "optional mirror destination for finished runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataDir == "" {
		return errors.New("train: -data is required")
	}

	cfg := trainer.DefaultConfig()
	cfg.ClusteringMethod = cluster.Method(*clustering)
	cfg.OptimizationMethod = *optimization
	cfg.ModelDir = *modelDir
	cfg.UserDir = *userDir
	cfg.Tuning.NTrials = *trials
	cfg.Tuning.Timeout = *timeout
	cfg.Tuning.CVFolds = *folds

	cancel := runctl.NewFlag()
	sink := trainer.NewProgressSink(64)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel.Set()
	}()

	go func() {
		for ev := range sink.Events() {
			fmt.Printf("[%5.1f%%] %-10s %s\n", ev.Percent, ev.Phase, ev.Message)
		}
	}()

	logger := log.GetLoggerWithName("refindex")
	t := trainer.New(cfg, grayStatsExtractor{},
		trainer.WithCancelFlag(cancel),
		trainer.WithProgressSink(sink))
	res, err := t.Run(*dataDir)
	if err != nil {
		return err
	}
	logger.Info("run finished",
		"status", string(res.Status),
		"test_mae", res.TestMAE,
		"test_mse", res.TestMSE,
		"model", res.ModelPath)
	fmt.Printf("status=%s best_cv_mae=%.6f test_mae=%.6f model=%s\n",
		res.Status, res.BestCV, res.TestMAE, res.ModelPath)
	return nil
}

func runPredict(args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	modelPath := fs.String("model", "", "path to a saved model artifact")
	imagePath := fs.String("image", "", "image to predict")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *modelPath == "" || *imagePath == "" {
		return errors.New("predict: -model and -image are required")
	}

	p, err := trainer.NewPredictor(*modelPath, grayStatsExtractor{})
	if err != nil {
		return err
	}
	value, err := p.Predict(*imagePath)
	if err != nil {
		return err
	}
	fmt.Printf("%.4f\n", value)
	return nil
}
