// istat-fetch downloads datasets from the ISTAT SDMX dissemination service
// through the resilient client: shared rate limiting, retry with backoff,
// dialect-aware URL building and the staggered-TTL metadata cache.
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/statwerk/istat-client/pkg/cache"
	"github.com/statwerk/istat-client/pkg/config"
	"github.com/statwerk/istat-client/pkg/logging"
	"github.com/statwerk/istat-client/pkg/normalize"
	"github.com/statwerk/istat-client/pkg/orchestrator"
	"github.com/statwerk/istat-client/pkg/protocol"
	"github.com/statwerk/istat-client/pkg/ratelimit"
	"github.com/statwerk/istat-client/pkg/transport"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "istat-fetch",
	Short: "Resilient downloader for the ISTAT SDMX dissemination service",
	Long: `istat-fetch downloads statistical datasets and metadata from the ISTAT
SDMX dissemination service. All requests share one rate limiter, retries
honor the service's backoff expectations, and metadata is cached with
staggered TTLs so refreshes never stampede the service.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(int(transport.ExitGenericError))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./istat-fetch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().String("base-url", config.DefaultBaseURL, "service base URL")
	rootCmd.PersistentFlags().String("dialect", string(protocol.DialectV1), "REST dialect (legacy, sdmx21, sdmx30)")
	rootCmd.PersistentFlags().String("redis", "", "Redis address for the metadata cache (empty = in-memory)")

	_ = viper.BindPFlag("base_url", rootCmd.PersistentFlags().Lookup("base-url"))
	_ = viper.BindPFlag("dialect", rootCmd.PersistentFlags().Lookup("dialect"))
	_ = viper.BindPFlag("redis_addr", rootCmd.PersistentFlags().Lookup("redis"))

	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newCacheCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("istat-fetch")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("ISTAT")
	viper.AutomaticEnv()

	// Missing config file is fine, flags and env carry the defaults.
	_ = viper.ReadInConfig()
}

// loadConfig assembles the typed configuration from defaults, config file,
// environment and flags.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	cfg.BaseURL = viper.GetString("base_url")
	cfg.Dialect = viper.GetString("dialect")
	cfg.RedisAddr = viper.GetString("redis_addr")

	if viper.IsSet("min_delay") {
		cfg.MinDelay = viper.GetDuration("min_delay")
	}
	if viper.IsSet("max_retries") {
		cfg.MaxRetries = viper.GetInt("max_retries")
	}
	if viper.IsSet("request_timeout") {
		cfg.RequestTimeout = viper.GetDuration("request_timeout")
	}
	if viper.IsSet("base_ttl_days") {
		cfg.BaseTTLDays = viper.GetInt("base_ttl_days")
	}
	if viper.IsSet("agency") {
		cfg.Agency = viper.GetString("agency")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// buildDownloader wires the full pipeline from the configuration.
func buildDownloader(cfg config.Config) (*orchestrator.Downloader, error) {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	logging.Setup(logging.Config{Level: level, Output: os.Stderr})

	var store cache.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to Redis at %s: %w", cfg.RedisAddr, err)
		}
		store = cache.NewRedisStore(client)
	} else {
		store = cache.NewMemoryStore()
	}

	builder, err := protocol.NewBuilder(cfg.ParsedDialect(), cfg.Builder())
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateLimit(), logging.NewLogger("ratelimit"))
	tr := transport.NewDefault(limiter, cfg.Transport(), logging.NewLogger("transport"))
	manager := cache.NewManager(store, cfg.Cache(), logging.NewLogger("cache"))

	return orchestrator.New(builder, tr, manager, logging.NewLogger("orchestrator")), nil
}

func newFetchCmd() *cobra.Command {
	var (
		filter           string
		startPeriod      string
		endPeriod        string
		updatedAfter     string
		frequency        string
		editionColumn    string
		latestEdition    bool
		incrementalStart string
		checkUpdate      bool
		remoteLastUpdate string
		usePOST          bool
		output           string
	)

	cmd := &cobra.Command{
		Use:   "fetch DATASET_ID [DATASET_ID...]",
		Short: "Download one or more datasets",
		Long: `Download one or more datasets and print them as CSV. Multiple datasets
run strictly sequentially; the process exit code reflects the first
failure (1 generic, 2 timeout, 3 rate limited).`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(int(transport.ExitGenericError))
			}
			downloader, err := buildDownloader(cfg)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(int(transport.ExitGenericError))
			}

			reqs := make([]orchestrator.Request, 0, len(args))
			for _, datasetID := range args {
				reqs = append(reqs, orchestrator.Request{
					DatasetID:           datasetID,
					Filter:              filter,
					StartPeriod:         startPeriod,
					EndPeriod:           endPeriod,
					UpdatedAfter:        updatedAfter,
					Frequency:           frequency,
					EditionColumn:       editionColumn,
					SelectLatestEdition: latestEdition,
					IncrementalStart:    incrementalStart,
					CheckUpdate:         checkUpdate,
					RemoteLastUpdate:    remoteLastUpdate,
					POST:                usePOST,
				})
			}

			items := downloader.DownloadBatch(cmd.Context(), reqs, orchestrator.BatchOptions{})

			out := os.Stdout
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					fmt.Fprintln(os.Stderr, "Error:", err)
					os.Exit(int(transport.ExitGenericError))
				}
				defer f.Close()
				out = f
			}

			exit := transport.ExitSuccess
			for _, item := range items {
				result := item.Result
				if !result.Success {
					fmt.Fprintf(os.Stderr, "%s: %s\n", item.DatasetID, result.Message)
					if exit == transport.ExitSuccess {
						exit = result.ExitCode
					}
					continue
				}
				if result.Data == nil {
					fmt.Fprintf(os.Stderr, "%s: %s\n", item.DatasetID, result.Message)
					continue
				}
				if err := writeCSV(out, result.Data); err != nil {
					fmt.Fprintln(os.Stderr, "Error:", err)
					os.Exit(int(transport.ExitGenericError))
				}
				fmt.Fprintf(os.Stderr, "%s: %d rows, checksum %s\n", item.DatasetID, len(result.Data.Rows), result.Checksum)
			}
			os.Exit(int(exit))
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "dot-separated positional filter key")
	cmd.Flags().StringVar(&startPeriod, "start", "", "start period (e.g. 2020-01)")
	cmd.Flags().StringVar(&endPeriod, "end", "", "end period")
	cmd.Flags().StringVar(&updatedAfter, "updated-after", "", "only observations updated after this timestamp")
	cmd.Flags().StringVar(&frequency, "frequency", "", "keep only observations with this FREQ code")
	cmd.Flags().StringVar(&editionColumn, "edition-column", "", "edition dimension column")
	cmd.Flags().BoolVar(&latestEdition, "latest-edition", false, "keep only the chronologically latest edition")
	cmd.Flags().StringVar(&incrementalStart, "incremental-start", "", "drop observations before this period")
	cmd.Flags().BoolVar(&checkUpdate, "check-update", false, "skip the download when the remote last-update is unchanged")
	cmd.Flags().StringVar(&remoteLastUpdate, "remote-last-update", "", "server's current last-update value for --check-update")
	cmd.Flags().BoolVar(&usePOST, "post", false, "send the filter in a POST body")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and refresh the metadata cache",
	}

	var force bool
	refreshCmd := &cobra.Command{
		Use:   "refresh [KEY...]",
		Short: "Re-download expired metadata entries",
		Long: `Re-download expired metadata entries. Without keys every cached entry
is checked; --force refreshes regardless of TTL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			downloader, err := buildDownloader(cfg)
			if err != nil {
				return err
			}
			var keys []string
			if len(args) > 0 {
				keys = args
			}
			refreshed, err := downloader.RefreshMetadata(cmd.Context(), keys, force)
			if err != nil {
				return err
			}
			fmt.Printf("refreshed %d entries\n", len(refreshed))
			for _, key := range refreshed {
				fmt.Println(" ", key)
			}
			return nil
		},
	}
	refreshCmd.Flags().BoolVar(&force, "force", false, "refresh every entry regardless of TTL")

	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "List cached metadata keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			manager, err := buildCacheManager(cfg)
			if err != nil {
				return err
			}
			keys, err := manager.AllKeys(cmd.Context())
			if err != nil {
				return err
			}
			for _, key := range keys {
				fmt.Println(key)
			}
			return nil
		},
	}

	evictCmd := &cobra.Command{
		Use:   "evict KEY",
		Short: "Evict one cached metadata entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			manager, err := buildCacheManager(cfg)
			if err != nil {
				return err
			}
			return manager.Evict(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(refreshCmd, keysCmd, evictCmd)
	return cmd
}

// buildCacheManager wires only the cache layer, for commands that never
// touch the network.
func buildCacheManager(cfg config.Config) (*cache.Manager, error) {
	var store cache.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to Redis at %s: %w", cfg.RedisAddr, err)
		}
		store = cache.NewRedisStore(client)
	} else {
		store = cache.NewMemoryStore()
	}
	return cache.NewManager(store, cfg.Cache(), logging.NewLogger("cache")), nil
}

// writeCSV renders the canonical table in its column order.
func writeCSV(w io.Writer, table *normalize.Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(table.Columns); err != nil {
		return err
	}
	record := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i, col := range table.Columns {
			record[i] = row[col]
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
