package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loqalabs/loqa-tts/internal/model"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect DIR",
	Short: "Detect a model directory's family and print the engine configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := args[0]
	family := model.Detect(dir)
	if family == model.Unknown {
		return fmt.Errorf("%s: no supported model layout found", dir)
	}
	c, ok := model.DefaultConfigurators(newLogger()).Lookup(family)
	if !ok {
		return fmt.Errorf("%s: no configurator for %s", dir, family)
	}

	engineCfg := model.Options{
		NumThreads:      cfg.Models.NumThreads,
		Debug:           cfg.Models.Debug,
		Provider:        cfg.Models.Provider,
		MaxNumSentences: cfg.Models.MaxNumSentences,
	}.BaseConfig()
	engineCfg.Name = filepath.Base(filepath.Clean(dir))
	engineCfg.Dir = dir
	engineCfg.Family = family
	if err := c.Configure(&engineCfg, dir); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(engineCfg)
}
