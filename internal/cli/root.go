package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "sqleech",
	Short: "Next-generation SQL injection testing tool",
	Long: `sqleech - Next-generation SQL injection testing tool

A high-performance, concurrent SQL injection detection and exploitation tool
written in Go. Designed for authorized penetration testing only.

WARNING: Use this tool only against systems you have explicit permission to test.
Unauthorized access to computer systems is illegal.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)

	// Target flags
	rootCmd.PersistentFlags().StringP("url", "u", "", "Target URL (e.g., http://target.com/page?id=1)")
	rootCmd.PersistentFlags().String("method", "GET", "HTTP method (GET, POST, PUT, etc.)")
	rootCmd.PersistentFlags().StringP("data", "d", "", "POST data (e.g., id=1&name=test)")
	rootCmd.PersistentFlags().String("cookie", "", "Cookie string (e.g., PHPSESSID=abc123)")
	rootCmd.PersistentFlags().StringArrayP("header", "H", nil, "Extra header (repeatable, e.g., -H 'X-Custom: value')")

	// Connection flags
	rootCmd.PersistentFlags().String("proxy", "", "Proxy URL (http://host:port or socks5://host:port)")
	rootCmd.PersistentFlags().Int("threads", 10, "Number of concurrent threads")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Request timeout")

	// Output flags
	rootCmd.PersistentFlags().IntP("verbose", "v", 0, "Verbosity level (0-3)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output file path")
	rootCmd.PersistentFlags().StringP("format", "f", "text", "Output format (text, json)")

	// Scan options
	rootCmd.PersistentFlags().String("dbms", "", "Force DBMS type (MySQL, PostgreSQL)")
	rootCmd.PersistentFlags().String("technique", "", "Techniques to use (B=Boolean, E=Error, comma-separated)")
	rootCmd.PersistentFlags().Bool("force-ssl", false, "Force HTTPS")
	rootCmd.PersistentFlags().Bool("random-agent", false, "Use random User-Agent")
	rootCmd.PersistentFlags().Bool("force-test", false, "Test all parameters even if heuristics say safe")

	// Inference & extraction tuning
	rootCmd.PersistentFlags().String("fetch-using", "", "Force a fetch strategy (binary, between, in, equal); skips operator probing")
	rootCmd.PersistentFlags().Duration("delay", 0, "Inter-request sleep lower bound")
	rootCmd.PersistentFlags().Int("timesec", 5, "Time-based oracle threshold, in seconds (not read by the scan command; time-based probes use a fixed 5s sleep)")
	rootCmd.PersistentFlags().Int("retry", 3, "Max network retries per request")
	rootCmd.PersistentFlags().Bool("fresh-queries", false, "Ignore persisted partial extractions for this target")
	rootCmd.PersistentFlags().String("ignore-code", "", "CSV of HTTP codes to treat as non-fatal; '*' means {401}")
	rootCmd.PersistentFlags().Bool("text-only", false, "Compare page text only, ignoring tags, when matching responses")
	rootCmd.PersistentFlags().String("string", "", "String present in a true response (skips the response-length oracle)")
	rootCmd.PersistentFlags().String("not-string", "", "String present in a false response")
	rootCmd.PersistentFlags().String("code", "", "HTTP status code expected for a true response")
	rootCmd.PersistentFlags().Bool("skip-urlencoding", false, "Do not URL-encode payloads before sending")
	rootCmd.PersistentFlags().String("prioritize", "", "CSV of technique codes to try first (e.g. B,E,T)")
	rootCmd.PersistentFlags().String("test-filter", "", "Only test parameters whose name matches this substring")

	// Tamper chain
	rootCmd.PersistentFlags().String("tamper", "", "CSV of tamper scripts to apply, in order (or 'all')")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sqleech %s (commit: %s, built: %s)\n", version, commit, date)
	},
}
