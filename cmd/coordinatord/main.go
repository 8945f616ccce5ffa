// Command coordinatord is the coordinator daemon entrypoint: its serve
// command validates --transport by constructing that rpc.Transport,
// logs the configured addresses, and exposes a Prometheus /metrics
// endpoint. It does not embed a query planner or execution engine —
// those are external collaborators per spec.md §1 — so it runs no
// query and opens no coordinator callback listener; --listen-address
// is read and logged only.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudimpl/querycoord/rpc"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coordinatord",
		Short: "Distributed query coordinator daemon",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: /etc/querycoord/coordinatord.yaml)")
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Validate the transport and start the metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	cmd.Flags().String("listen-address", "0.0.0.0:23000", "address the CoordinatorCallback RPC server listens on")
	cmd.Flags().String("metrics-address", "0.0.0.0:23001", "address the Prometheus /metrics endpoint listens on")
	cmd.Flags().String("transport", "grpc", "RPC transport to use (grpc or memory)")
	bindFlags(cmd)
	return cmd
}

// bindFlags wires every flag on cmd into viper so QUERYCOORD_* env
// vars and a config file loaded via initConfig can override defaults,
// following the standard spf13/cobra+viper composition.
func bindFlags(cmd *cobra.Command) {
	viper.SetEnvPrefix("QUERYCOORD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(cmd.Flags())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("/etc/querycoord")
		viper.SetConfigName("coordinatord")
	}
	_ = viper.ReadInConfig() // absence of a config file is not an error
}

func runServe() error {
	initConfig()
	logger := log.NewLogfmtLogger(os.Stderr)
	logger = level.NewFilter(logger, level.AllowInfo())

	listenAddr := viper.GetString("listen-address")
	metricsAddr := viper.GetString("metrics-address")
	transportKind := viper.GetString("transport")

	transport, err := newTransport(transportKind)
	if err != nil {
		return err
	}
	_ = transport // constructed only to validate --transport

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	level.Info(logger).Log("msg", "coordinatord starting", "listen_address", listenAddr, "metrics_address", metricsAddr, "transport", transportKind)
	return http.ListenAndServe(metricsAddr, mux)
}

func newTransport(kind string) (rpc.Transport, error) {
	switch kind {
	case "memory":
		return rpc.NewMemTransport(), nil
	case "grpc":
		return rpc.NewGRPCTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want grpc or memory)", kind)
	}
}
