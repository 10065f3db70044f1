package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/onemorebsmith/contribution-ledger/src/api"
	"github.com/onemorebsmith/contribution-ledger/src/common"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/onemorebsmith/contribution-ledger/src/notify"
	"github.com/onemorebsmith/contribution-ledger/src/session"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type client struct {
	base   string
	signer *session.Signer
	http   *http.Client
}

type apiError struct {
	status int
	resp   api.ErrorResponse
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.status, e.resp.Code, e.resp.Error)
}

func (c *client) call(ctx context.Context, method, path string, body any, out any) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.signer.Sign(req, raw); err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		e := &apiError{status: resp.StatusCode}
		if resp.StatusCode == http.StatusBadGateway {
			// payout failures still carry the recorded withdrawals
			_ = json.Unmarshal(data, out)
		}
		if json.Unmarshal(data, &e.resp) != nil || e.resp.Code == "" {
			e.resp.Error = strings.TrimSpace(string(data))
		}
		return e
	}
	return errors.Wrap(json.Unmarshal(data, out), "failed decoding response")
}

func (c *client) status(ctx context.Context) (api.EntryResponse, error) {
	entry := api.EntryResponse{}
	err := c.call(ctx, http.MethodGet, "/ledger/entries/"+c.signer.Identity().Hex(), nil, &entry)
	return entry, err
}

func printEntry(e api.EntryResponse) {
	fmt.Printf("identity:      %s\n", e.Identity)
	fmt.Printf("contribution:  %s wei\n", e.Contribution)
	fmt.Printf("token balance: %s\n", e.TokenBalance)
}

// contribute mirrors the web page: read both counters, pay the fixed amount, read again
func (c *client) contribute(ctx context.Context) (before, after api.EntryResponse, err error) {
	if before, err = c.status(ctx); err != nil {
		return before, after, err
	}

	terms := api.TermsResponse{}
	if err = c.call(ctx, http.MethodGet, "/ledger/terms", nil, &terms); err != nil {
		return before, after, err
	}
	log.Printf("contributing %s wei", terms.PaymentAmount)
	committed := api.EntryResponse{}
	if err = c.call(ctx, http.MethodPost, "/ledger/contribute", api.ContributeRequest{Value: terms.PaymentAmount}, &committed); err != nil {
		return before, after, err
	}

	after, err = c.status(ctx)
	return before, after, err
}

func (c *client) withdraw(ctx context.Context, amount string) (api.WithdrawalResponse, error) {
	w := api.WithdrawalResponse{}
	if _, err := model.ParseAmount(amount); err != nil {
		return w, err
	}
	err := c.call(ctx, http.MethodPost, "/ledger/withdraw", api.WithdrawRequest{Amount: amount}, &w)
	return w, err
}

func (c *client) reconcile(ctx context.Context, includePending bool) ([]api.WithdrawalResponse, error) {
	var retried []api.WithdrawalResponse
	err := c.call(ctx, http.MethodPost, "/ledger/withdrawals/retry", api.RetryRequest{IncludePending: includePending}, &retried)
	return retried, err
}

func printWithdrawal(w api.WithdrawalResponse) {
	tx := "-"
	if w.TxId != nil {
		tx = *w.TxId
	}
	fmt.Printf("withdrawal %s: %s wei to %s, status %s, tx %s\n", w.Id, w.Amount, w.Operator, w.Status, tx)
}

// watch prints contributions as ledgerd publishes them to redis
func watch(ctx context.Context, redisAddr string) error {
	notifier, err := notify.Dial(ctx, redisAddr)
	if err != nil {
		return err
	}
	defer notifier.Close()
	logger := common.ConfigureZap(zap.WarnLevel)
	for c := range notifier.Subscribe(ctx, logger) {
		fmt.Printf("%s %s paid %s wei, credited %s (total %s)\n",
			c.Committed.Format(time.RFC3339), c.Identity.Hex(), c.Payment.Dec(), c.Reward.Dec(), c.Entry.CumulativeReward.Dec())
	}
	return nil
}

func main() {
	url := flag.String("url", "http://localhost:8080", "address of the ledger api")
	key := flag.String("key", os.Getenv("LEDGER_KEY"), "hex private key used to sign requests, defaults to $LEDGER_KEY")
	redisAddr := flag.String("redis", "localhost:6379", "redis ledgerd publishes contributions to, used by watch")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: ledgerctl [flags] status|contribute|withdraw <wei>|reconcile [pending]|watch\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"status"}
	}
	if args[0] == "watch" {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		exitOn(watch(ctx, *redisAddr))
		return
	}

	signer, err := session.NewSignerFromHex(*key)
	if err != nil {
		log.Fatalf("failed loading key: %s", err)
	}
	c := &client{
		base:   strings.TrimSuffix(*url, "/"),
		signer: signer,
		http:   &http.Client{Timeout: *timeout},
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch args[0] {
	case "status":
		entry, err := c.status(ctx)
		exitOn(err)
		printEntry(entry)
	case "contribute":
		before, after, err := c.contribute(ctx)
		if before.Identity != "" {
			printEntry(before)
		}
		exitOn(err)
		printEntry(after)
	case "withdraw":
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		w, err := c.withdraw(ctx, args[1])
		if w.Id != "" {
			printWithdrawal(w)
		}
		exitOn(err)
	case "reconcile":
		retried, err := c.reconcile(ctx, len(args) > 1 && args[1] == "pending")
		for _, w := range retried {
			printWithdrawal(w)
		}
		exitOn(err)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func exitOn(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
