package cmd

import (
	"fmt"
	"os"

	"ssb/config"
	"ssb/slurm"
	"ssb/util"
)

// forwardedEnv lists local variables picked up automatically when set.
var forwardedEnv = []string{ //nolint:gochecknoglobals
	"HF_TOKEN",
	"HUGGING_FACE_HUB_TOKEN",
	"WANDB_API_KEY",
	"WANDB_ENTITY",
	"WANDB_PROJECT",
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"CUDA_VISIBLE_DEVICES",
	"HF_HOME",
	"HF_HUB_CACHE",
	"TRANSFORMERS_CACHE",
	"TORCH_HOME",
}

// buildJobEnv merges the variables forwarded to every scheduler
// command.  Later sources win: auto-detected local variables, then the
// profile's env_vars, then --env, then --env-local.  A missing
// --env-local variable only warns.
func buildJobEnv(cfg *config.Config, profileEnv map[string]string, lookup func(string) (string, bool), log *util.Logger) (map[string]string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := map[string]string{}

	for _, k := range forwardedEnv {
		if v, ok := lookup(k); ok {
			env[k] = v
			log.Verbose("auto-detected environment variable: %s", k)
		}
	}
	for k, v := range profileEnv {
		env[k] = v
	}
	for _, kv := range cfg.Env {
		k, v, err := config.ParseEnvAssignment(kv)
		if err != nil {
			return nil, err
		}
		if err := slurm.ValidateEnvKey(k); err != nil {
			return nil, fmt.Errorf("--env: %w", err)
		}
		env[k] = v
	}
	for _, k := range cfg.EnvLocal {
		if err := slurm.ValidateEnvKey(k); err != nil {
			return nil, fmt.Errorf("--env-local: %w", err)
		}
		v, ok := lookup(k)
		if !ok {
			log.Warn("local environment variable %s not set", k)
			continue
		}
		env[k] = v
	}
	return env, nil
}
