// Command report-verifier checks a delegate report offline.
//
// The report is either a bare COSE_Sign1 message or a captured envelope frame as published on
// the aggregator's Redis channel. The public key is the PEM logged by the aggregator when it
// spawned the delegate.
package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/auctionapi/parsing"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/federation"
)

func main() {
	flags := pflag.NewFlagSet("report-verifier", pflag.ContinueOnError)
	var (
		reportInput  = flags.String("report", "", "Report file path, or inline base64")
		keyInput     = flags.String("public-key", "", "Delegate public key PEM file path, or inline PEM")
		federationID = flags.String("federation", "", "Expected federation id (optional)")
		outputFormat = flags.String("format", "text", "Output format: text or json")
	)
	flags.Usage = func() { showUsage(os.Stdout, flags) }

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if *reportInput == "" || *keyInput == "" {
		showUsage(os.Stderr, flags)
		fmt.Fprintf(os.Stderr, "\nError: --report and --public-key are required\n")
		os.Exit(2)
	}

	report, err := readReport(*reportInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading report: %v\n", err)
		os.Exit(2)
	}

	result, err := verify(report, string(readInput(*keyInput)), *federationID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		if err := outputJSON(os.Stdout, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
	} else {
		outputText(os.Stdout, result)
	}

	if !result.Valid() {
		os.Exit(1)
	}
}

func showUsage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintln(w, "Delegate Report Verifier")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  report-verifier --report <file|base64> --public-key <file|pem> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, flags.FlagUsages())
	fmt.Fprintln(w, "Exit Codes:")
	fmt.Fprintln(w, "  0 - Report verified")
	fmt.Fprintln(w, "  1 - Verification failed")
	fmt.Fprintln(w, "  2 - Invalid input or runtime error")
}

// readInput returns the file content when input names a readable file, and input itself
// otherwise.
func readInput(input string) []byte {
	if data, err := os.ReadFile(input); err == nil {
		return data
	}
	return []byte(input)
}

func readReport(input string) ([]byte, error) {
	if data, err := os.ReadFile(input); err == nil {
		return data, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(input))
	if err != nil {
		return nil, fmt.Errorf("neither a readable file nor base64: %w", err)
	}
	return data, nil
}

// Result is the verification verdict.
type Result struct {
	Envelope       bool          `json:"envelope"`
	Sender         string        `json:"sender,omitempty"`
	SignatureValid bool          `json:"signature_valid"`
	SenderMatch    bool          `json:"sender_match"`
	FederationOK   bool          `json:"federation_match"`
	Delegate       string        `json:"delegate,omitempty"`
	Federation     string        `json:"federation,omitempty"`
	Outcome        *core.Outcome `json:"outcome,omitempty"`
	Details        []string      `json:"details,omitempty"`
}

func (r Result) Valid() bool {
	return r.SignatureValid && r.SenderMatch && r.FederationOK
}

// verify accepts an envelope frame or a bare COSE_Sign1 message. Envelope frames additionally
// have their sender compared with the signed delegate.
func verify(report []byte, publicKeyPEM, federationID string) (Result, error) {
	publicKey, err := federation.ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return Result{}, err
	}

	var result Result
	signed := report
	if env, err := parsing.DecodeEnvelope(report); err == nil && env.Type == auctionapi.TypeReport {
		r, err := parsing.DecodeReport(env)
		if err != nil {
			return Result{}, err
		}
		result.Envelope = true
		result.Sender = env.Sender
		signed = r.Signed
	}

	so, err := federation.VerifyReport(signed, publicKey)
	if err != nil {
		result.Details = append(result.Details, err.Error())
		return result, nil
	}

	result.SignatureValid = true
	result.Delegate = so.Delegate
	result.Federation = so.Federation
	result.Outcome = &so.Outcome

	result.SenderMatch = !result.Envelope || result.Sender == so.Delegate
	if !result.SenderMatch {
		result.Details = append(result.Details, fmt.Sprintf("sent by %s but signed for %s", result.Sender, so.Delegate))
	}
	result.FederationOK = federationID == "" || federationID == so.Federation
	if !result.FederationOK {
		result.Details = append(result.Details, fmt.Sprintf("signed for federation %s, expected %s", so.Federation, federationID))
	}
	return result, nil
}

func outputText(w io.Writer, result Result) {
	fmt.Fprintln(w, "Delegate Report Verifier")
	fmt.Fprintln(w, "========================")
	if result.Outcome != nil {
		fmt.Fprintf(w, "  Delegate:          %s\n", result.Delegate)
		fmt.Fprintf(w, "  Federation:        %s\n", result.Federation)
		fmt.Fprintf(w, "  Outcome:           %s\n", result.Outcome)
	}
	fmt.Fprintf(w, "  Signature Valid:   %v\n", result.SignatureValid)
	fmt.Fprintf(w, "  Sender Match:      %v\n", result.SenderMatch)
	fmt.Fprintf(w, "  Federation Match:  %v\n", result.FederationOK)
	for _, d := range result.Details {
		fmt.Fprintf(w, "  - %s\n", d)
	}
	fmt.Fprintln(w, "========================")
	if result.Valid() {
		fmt.Fprintln(w, "VERIFICATION: PASSED")
	} else {
		fmt.Fprintln(w, "VERIFICATION: FAILED")
	}
}

func outputJSON(w io.Writer, result Result) error {
	data, err := json.MarshalIndent(struct {
		Valid bool `json:"valid"`
		Result
	}{result.Valid(), result}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
