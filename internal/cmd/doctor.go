package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	engineassets "github.com/3leaps/wsfetch/internal/assets/engine"
	"github.com/3leaps/wsfetch/internal/config"
	"github.com/3leaps/wsfetch/internal/observability"
	"github.com/3leaps/wsfetch/pkg/engine"
	"github.com/3leaps/wsfetch/pkg/mirror"
)

var doctorMirror bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  wsfetch doctor            # Environment, data dir and engine checks
  wsfetch doctor --mirror   # Also check S3 mirror credentials`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorMirror, "mirror", false, "Run S3 mirror checks")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}

	allChecks := true
	checkNum := 1
	totalChecks := 6
	if doctorMirror {
		totalChecks = 9
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Gofulmen
	version := crucible.GetVersion()
	if version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s (crucible v%s)", checkNum, totalChecks, version.Gofulmen, version.Crucible),
			zap.String("gofulmen_version", version.Gofulmen),
			zap.String("crucible_version", version.Crucible))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 3: Data directory
	if err := checkWritableDir(cfg.DataDir); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking data directory... ❌ %s is not writable", checkNum, totalChecks, cfg.DataDir),
			zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Data directory is not writable", err)
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking data directory... ✅ %s", checkNum, totalChecks, cfg.DataDir),
		zap.String("data_dir", cfg.DataDir))
	checkNum++

	// Check 4: Engine
	locator := engine.NewLocator(cfg.DataDir, cfg.Engine.Path, engineassets.Payload(), observability.CLILogger)
	if path, err := locator.Resolve(); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking engine... ❌ Not available", checkNum, totalChecks),
			zap.Bool("embedded", engineassets.Embedded()),
			zap.Error(err))
		printEngineHelp(locator.Path())
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking engine... ✅ %s", checkNum, totalChecks, path),
			zap.String("engine_path", path))
	}
	checkNum++

	// Check 5: Configuration
	if err := cfg.Validate(); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ Invalid", checkNum, totalChecks), zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ serve on %s", checkNum, totalChecks, cfg.Server.Addr()),
			zap.String("addr", cfg.Server.Addr()))
	}
	checkNum++

	// Check 6: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorMirror {
		allChecks = runMirrorChecks(cmd.Context(), cfg.Mirror, checkNum, totalChecks) && allChecks
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
	return nil
}

// checkWritableDir creates dir if needed and probes it with a temp file.
func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// runMirrorChecks runs S3 mirror diagnostic checks.
func runMirrorChecks(ctx context.Context, mc config.MirrorConfig, checkNum, totalChecks int) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Mirror Checks:")

	// Check 7: Mirror config
	cfg := mirrorConfig(mc)
	if err := cfg.Validate(); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking mirror config... ❌ Invalid", checkNum, totalChecks), zap.Error(err))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking mirror config... ✅ s3://%s/%s", checkNum, totalChecks, cfg.Bucket, cfg.Prefix),
		zap.Bool("enabled", mc.Enabled))
	checkNum++

	// Check 8: AWS credentials
	awsCfg, err := mirror.LoadAWSConfig(ctx, cfg)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	maskedKey := maskAccessKey(creds.AccessKeyID)
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskedKey),
		zap.String("source", creds.Source))
	checkNum++

	// Check 9: Region
	region := awsCfg.Region
	if region == "" {
		region = "(endpoint default)"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking region... ✅ %s", checkNum, totalChecks, region),
		zap.String("region", awsCfg.Region),
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("detect_region", cfg.DetectRegion))
	return true
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile and set WSFETCH_MIRROR_PROFILE, or")
	observability.CLILogger.Info("  3. Use an IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	observability.CLILogger.Info("  - WSFETCH_MIRROR_ENDPOINT and WSFETCH_MIRROR_FORCE_PATH_STYLE=true")
	observability.CLILogger.Info("")
}

// printEngineHelp explains how to make the engine available.
func printEngineHelp(expected string) {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To make SteamCMD available:")
	observability.CLILogger.Info("  1. Install SteamCMD and set WSFETCH_ENGINE_PATH to its executable, or")
	observability.CLILogger.Info("  2. Place the executable at " + expected)
	observability.CLILogger.Info("")
}
