package client

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/ValentinKolb/dNet/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for dNet servers",
		Long: `Performance testing tool for dNet servers.

The echo benchmarks measure round trips and require a server running in echo mode
(dnet serve --mode echo). The group benchmark relays through a group this client joins
with loopback enabled.`,
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfReplyTimeout     = 5 * time.Second
	perfSkip             = make([]string, 0)
)

// benchmarks in execution order
var benchmarks = []string{"send", "send-large", "echo", "group"}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. send,echo)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines sending in parallel (send benchmarks)"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the message of the send-large test should be (in KB)"))
	key = "reply-timeout"
	perfTestCmd.Flags().Duration(key, 5*time.Second, util.WrapString("How long to wait for a single reply (echo and group benchmarks)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfNumThreads = viper.GetInt("threads")
	perfReplyTimeout = viper.GetDuration("reply-timeout")
	perfSkip = util.SplitList(viper.GetString("skip"))

	for _, s := range perfSkip {
		if !slices.Contains(benchmarks, s) {
			return fmt.Errorf("unknown benchmark %s (expected one of %v)", s, benchmarks)
		}
	}
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for dNet servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(clientConf.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)

	results["send"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("send") {
			return
		}
		payload := []byte("perf")
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if err := dnetClient.SendMessage(payload); err != nil {
					log.Printf("(send) - error sending message: %v\n", err)
				}
			}
		})
	})
	printResult("send", results["send"])
	drainInbox()

	results["send-large"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("send-large") {
			return
		}
		payload := make([]byte, perfLargeValueSizeKB*1024)
		b.SetBytes(int64(len(payload)))
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if err := dnetClient.SendMessage(payload); err != nil {
					log.Printf("(send-large) - error sending message: %v\n", err)
				}
			}
		})
	})
	printResult("send-large", results["send-large"])
	drainInbox()

	results["echo"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("echo") {
			return
		}
		payload := []byte("ping")
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if err := dnetClient.SendMessage(payload); err != nil {
				log.Printf("(echo) - error sending message: %v\n", err)
				continue
			}
			if !awaitOne() {
				log.Printf("(echo) - no reply within %s, is the server running in echo mode?\n", perfReplyTimeout)
				b.SkipNow()
			}
		}
	})
	printResult("echo", results["echo"])
	drainInbox()

	results["group"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("group") {
			return
		}
		groups := []string{"__perf"}
		prev := dnetClient.Groups()
		if err := dnetClient.JoinGroup(groups...); err != nil {
			log.Printf("(group) - error joining group: %v\n", err)
			b.SkipNow()
		}
		b.Cleanup(func() {
			if err := dnetClient.JoinGroup(prev...); err != nil {
				log.Printf("(group) - error restoring groups: %v\n", err)
			}
		})

		payload := []byte("relay")
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if err := dnetClient.SendGroupMessage(groups, payload, true); err != nil {
				log.Printf("(group) - error sending message: %v\n", err)
				continue
			}
			if !awaitOne() {
				log.Printf("(group) - no relay within %s, are groups enabled on the server?\n", perfReplyTimeout)
				b.SkipNow()
			}
		}
	})
	printResult("group", results["group"])

	if path := viper.GetString("csv"); path != "" {
		if err := writeResultsToCSV(path, results); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", path)
	}

	traffic := dnetClient.Traffic()
	fmt.Println()
	fmt.Printf("sent %d bytes, received %d bytes in %d packets (mean size %.0f bytes)\n",
		traffic.SentBytes, traffic.ReceivedBytes, traffic.Packets, traffic.PacketSizeMean)
	return nil
}

func shouldSkip(test string) bool {
	return slices.Contains(perfSkip, test)
}

// awaitOne waits for a single reply
func awaitOne() bool {
	select {
	case <-inbox:
		return true
	case <-time.After(perfReplyTimeout):
		return false
	}
}

// drainInbox discards replies of the previous benchmark
func drainInbox() {
	// give in-flight replies a moment to arrive
	time.Sleep(100 * time.Millisecond)
	for {
		select {
		case <-inbox:
		default:
			return
		}
	}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f msg/sec", test, nsPerOp, util.FormatDuration(time.Duration(nsPerOp)), opsPerSec)
	if result.Bytes > 0 {
		fmt.Printf("\t%.2f MB/s", float64(result.Bytes)*opsPerSec/1e6)
	}
	fmt.Println()
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "MsgPerSec", "Skipped",
		"Endpoint", "Transport", "Framing", "Threads", "LargeValueSizeKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, test := range benchmarks {
		result := results[test]

		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			clientConf.Endpoint,
			viper.GetString("transport"),
			clientConf.Framing.String(),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
