package main

import (
	"context"
	"encoding/json"
	"fmt"
	gio "io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"petfinder/pkg"
	"petfinder/pkg/tracking"
)

const (
	defaultTrackingURI    = "sqlite://mlruns/tracking.db"
	defaultExperimentName = "Base model"
)

func TrainCommand() *cobra.Command {
	var params pkg.TrainingParameters

	var cmd = &cobra.Command{
		Use:   "train [--dataset-dir dir] [--hidden-layer-sizes 200,100 --dropout 0.1,0.1]",
		Short: "Trains a classifier on train.csv, evaluates it on a dev split and writes predictions for test.csv",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := pkg.Train(cmd.Context(), params)
			return err
		},
	}

	cmd.Flags().StringVarP(&params.DatasetDir, "dataset-dir", "d", "./dataset", "directory with the training and test files")
	cmd.Flags().IntSliceVarP(&params.HiddenLayerSizes, "hidden-layer-sizes", "", []int{100}, "number of hidden units of each hidden layer")
	cmd.Flags().Float64SliceVarP(&params.Dropout, "dropout", "", []float64{0.5}, "dropout ratio for every hidden layer")
	cmd.Flags().IntVarP(&params.NumEpochs, "epochs", "n", 10, "number of epochs to train")
	cmd.Flags().IntVarP(&params.BatchSize, "batch-size", "b", 32, "number of instances in each batch")
	cmd.Flags().Float64VarP(&params.LearningRate, "learning-rate", "l", 0.0005, "learning rate")
	cmd.Flags().Float64VarP(&params.DevFraction, "dev-fraction", "", 0.2, "fraction of the training file held out for validation")
	cmd.Flags().Uint64VarP(&params.RndSeed, "random-seed", "x", 0, "random seed")
	cmd.Flags().BoolVarP(&params.BatchNorm, "batch-norm", "", false, "normalise the network input with batch normalisation")
	cmd.Flags().IntVarP(&params.ReportInterval, "report-interval", "r", 10, "loss report interval, in batches")
	cmd.Flags().StringVarP(&params.ExperimentName, "experiment-name", "e", defaultExperimentName, "name of the experiment in the tracker")
	cmd.Flags().StringVarP(&params.TrackingURI, "tracking-uri", "", defaultTrackingURI, "sqlite://path or http(s)://mlflow-server")
	cmd.Flags().StringVarP(&params.ColumnsFile, "columns", "", "", "YAML file overriding the column layout")
	cmd.Flags().StringVarP(&params.OutputDir, "output-dir", "", "output", "directory for the training plots")
	cmd.Flags().StringVarP(&params.SubmissionFile, "submission-file", "s", "result_submission.csv", "name of the submission file")
	cmd.Flags().StringVarP(&params.ModelFile, "model-file", "o", "", "name of the file to save the model to (optional)")

	return cmd
}

func PredictCommand() *cobra.Command {
	var modelFile string
	var inputFile string
	var outputFile string
	var batchSize int

	var cmd = &cobra.Command{
		Use:   "predict -m modelFile -i testFile [-o outputFile]",
		Short: "Runs a saved model on the provided data and writes a submission file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pkg.Predict(modelFile, inputFile, outputFile, batchSize)
		},
	}

	cmd.Flags().StringVarP(&modelFile, "model", "m", "", "name of the model file")
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "name of the data file")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "result_submission.csv", "name of the submission file")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 64, "number of instances predicted at once")

	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func RunsCommand() *cobra.Command {
	var trackingURI string
	var experimentName string

	var cmd = &cobra.Command{
		Use:   "runs [-e experiment]",
		Short: "Lists the tracked runs of an experiment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(cmd.Context(), cmd.OutOrStdout(), trackingURI, experimentName)
		},
	}

	cmd.Flags().StringVarP(&trackingURI, "tracking-uri", "", defaultTrackingURI, "sqlite://path or http(s)://mlflow-server")
	cmd.Flags().StringVarP(&experimentName, "experiment-name", "e", defaultExperimentName, "name of the experiment")

	return cmd
}

func listRuns(ctx context.Context, out gio.Writer, trackingURI, experimentName string) error {
	tracker, err := tracking.Open(trackingURI)
	if err != nil {
		return err
	}
	defer tracker.Close()

	runs, err := tracker.ListRuns(ctx, experimentName)
	if err != nil {
		return fmt.Errorf("error listing runs: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tSTARTED\tMETRICS\tPARAMS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", run.ID, run.Status, run.StartTime.Format("2006-01-02 15:04:05"),
			formatMetrics(run.Metrics), formatParams(run.Params))
	}
	return w.Flush()
}

func formatMetrics(metrics map[string]float64) string {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.4f", k, metrics[k])
	}
	return strings.Join(parts, " ")
}

func formatParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + params[k]
	}
	return strings.Join(parts, " ")
}

var logLevel string
var logFormat string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{Use: "petfinder", PersistentPreRunE: setupLogging, SilenceUsage: true}

	root.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Logging level: info error or debug")
	root.PersistentFlags().StringVarP(&logFormat, "log-format", "", "pretty", "Logging format: pretty or json")

	root.AddCommand(TrainCommand())
	root.AddCommand(PredictCommand())
	root.AddCommand(RunsCommand())
	return root
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {

	switch logLevel {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		return fmt.Errorf("invalid logging level %q", logLevel)
	}

	switch logFormat {
	case "pretty":
		setupPrettyLogging()
	case "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid log format %q", logFormat)
	}
	return nil
}

func setupPrettyLogging() {
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	writer.FormatFieldValue = func(i interface{}) string {
		switch v := i.(type) {
		case json.Number:
			val, _ := v.Float64()
			return fmt.Sprintf("%.3f", val)
		default:
			return fmt.Sprintf("%s", i)
		}

	}
	log.Logger = log.Output(writer)

}
