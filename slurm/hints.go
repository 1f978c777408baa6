package slurm

import "strings"

// Hint classifies scheduler error output into a short suggestion.
func Hint(output, binDir string) string {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "command not found") || strings.Contains(lower, "not found"):
		h := "SLURM commands not found in PATH; check the installation, try 'module load slurm', " +
			"or look in /cm/shared/apps/slurm/current/bin"
		if binDir != "" {
			h += "; detected " + binDir + ", verify its permissions"
		}
		return h
	case strings.Contains(lower, "permission denied"):
		return "permission denied; check that your account has SLURM access and the right groups"
	case strings.Contains(lower, "invalid") && strings.Contains(lower, "partition"):
		return "invalid partition; list partitions with 'sinfo' and fix the #SBATCH --partition directive"
	case strings.Contains(lower, "no space left"):
		return "storage is full; check 'df -h' and clean up /tmp"
	}
	return "run 'sbatch --version' on the host and check 'systemctl status slurm*'"
}
