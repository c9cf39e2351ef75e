package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chrisconley/tally/internal"
	"github.com/chrisconley/tally/specs"
)

var loadBatchSize int

// loadCmd imports usage events from a JSON lines file
var loadCmd = &cobra.Command{
	Use:   "load [file]",
	Short: "Import usage events from a JSON lines file (stdin when omitted)",
	Long: `Import usage events, one JSON object per line:

  {"transactionID":"tx_1","organizationID":"org_1","subscriptionID":"sub_1",
   "code":"storage_gb","timestamp":"2024-01-03T10:00:00Z","properties":{"region":"eu","gb":5}}

Numeric and boolean property values are stored as their JSON text.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().IntVar(&loadBatchSize, "batch-size", 500, "events per insert transaction")
}

func runLoad(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := s.context(cmd.Context())
	defer cancel()

	var (
		batch []internal.Event
		total int
		line  int
	)
	flush := func() error {
		if err := s.store.RecordBatch(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		spec, err := decodeEvent(scanner.Bytes())
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		e, err := internal.NewEvent(spec)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, e)
		if len(batch) >= loadBatchSize {
			if err := flush(); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	logger.Info("events loaded", zap.Int("events", total))
	fmt.Fprintf(cmd.OutOrStdout(), "%d event(s) loaded\n", total)
	return nil
}

// eventLine is the wire form of one loaded event. Property values may be any
// JSON value; numbers keep their literal text.
type eventLine struct {
	TransactionID  string         `json:"transactionID"`
	OrganizationID string         `json:"organizationID"`
	SubscriptionID string         `json:"subscriptionID"`
	Code           string         `json:"code"`
	Timestamp      time.Time      `json:"timestamp"`
	Properties     map[string]any `json:"properties"`
}

func decodeEvent(data []byte) (specs.EventSpec, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var l eventLine
	if err := dec.Decode(&l); err != nil {
		return specs.EventSpec{}, err
	}

	spec := specs.EventSpec{
		TransactionID:  l.TransactionID,
		OrganizationID: l.OrganizationID,
		SubscriptionID: l.SubscriptionID,
		Code:           l.Code,
		Timestamp:      l.Timestamp,
	}
	if len(l.Properties) > 0 {
		spec.Properties = make(map[string]string, len(l.Properties))
	}
	for key, value := range l.Properties {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			spec.Properties[key] = v
		case json.Number:
			spec.Properties[key] = v.String()
		case bool:
			spec.Properties[key] = strconv.FormatBool(v)
		default:
			// Objects and arrays are kept as compact JSON.
			raw, err := json.Marshal(v)
			if err != nil {
				return specs.EventSpec{}, fmt.Errorf("property %q: %w", key, err)
			}
			spec.Properties[key] = string(raw)
		}
	}
	return spec, nil
}
