package main

import (
	"github.com/spf13/cobra"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/config"
)

// serverFlags 命令行参数，未显式设置的参数不覆盖配置
type serverFlags struct {
	configPath     string
	port           int
	outPath        string
	numEpochs      int
	batchSize      int
	gradAccum      int
	maxAudioLength int
}

func newRootCmd(run func(cmd *cobra.Command, cfg *config.Config) error) *cobra.Command {
	var f serverFlags
	cmd := &cobra.Command{
		Use:           "xtts-webui",
		Short:         "XTTS 微调控制面板：数据集、训练、优化与推理",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(f.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &f, cfg)
			if err := config.ValidateConfig(cfg); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "YAML config file (collaborator commands, directories, hub)")
	flags.IntVar(&f.port, "port", 5003, "Port to run the server on")
	flags.StringVar(&f.outPath, "out_path", "./finetune_models", "Output path (where data and checkpoints will be saved)")
	flags.IntVar(&f.numEpochs, "num_epochs", 6, "Number of epochs to train")
	flags.IntVar(&f.batchSize, "batch_size", 2, "Batch size")
	flags.IntVar(&f.gradAccum, "grad_acumm", 1, "Grad accumulation steps")
	flags.IntVar(&f.maxAudioLength, "max_audio_length", 11, "Max permitted audio size in seconds")
	return cmd
}

// applyFlags 命令行参数 > YAML 配置文件 > 环境变量 > 默认值
func applyFlags(cmd *cobra.Command, f *serverFlags, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = flags.Lookup("port").Value.String()
	}
	if flags.Changed("out_path") {
		cfg.Data.OutPath = f.outPath
	}
	if flags.Changed("num_epochs") {
		cfg.Training.NumEpochs = f.numEpochs
	}
	if flags.Changed("batch_size") {
		cfg.Training.BatchSize = f.batchSize
	}
	if flags.Changed("grad_acumm") {
		cfg.Training.GradAccum = f.gradAccum
	}
	if flags.Changed("max_audio_length") {
		cfg.Training.MaxAudioLength = f.maxAudioLength
	}
}
