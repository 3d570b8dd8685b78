package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/golang/glog"

	"github.com/dali-lab/dali-sdk/dali"
)

const DaliCtlVersion = "0.0.1"

func main() {
	usage := fmt.Sprintf(
		`DALI lab control.

The default server url is:
    server_url: %s

The session token may also be set with DALI_TOKEN.

Usage:
    dalictl signin [--config=<config>] [--server_url=<server_url>] [--access_token=<access_token>] [--refresh_token=<refresh_token>]
    dalictl whoami [--config=<config>] [--server_url=<server_url>] [--token=<token>]
    dalictl equipment list [--config=<config>] [--server_url=<server_url>] [--token=<token>]
    dalictl equipment checkout <equipment_id> [--config=<config>] [--server_url=<server_url>] [--token=<token>]
        [--days=<days>]
    dalictl equipment return <equipment_id> [--config=<config>] [--server_url=<server_url>] [--token=<token>]
    dalictl events upcoming [--config=<config>] [--server_url=<server_url>] [--token=<token>]
    dalictl food get [--config=<config>] [--server_url=<server_url>]
    dalictl food set <food> [--config=<config>] [--server_url=<server_url>] [--token=<token>]
    dalictl food cancel [--config=<config>] [--server_url=<server_url>] [--token=<token>]
    dalictl location shared [--config=<config>] [--server_url=<server_url>] [--token=<token>]
    dalictl observe (equipment | food | lights) [--config=<config>] [--server_url=<server_url>] [--token=<token>]
        [--metrics_addr=<metrics_addr>] [-v]

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --config=<config>                Yaml config file.
    --server_url=<server_url>
    --access_token=<access_token>    Google access token.
    --refresh_token=<refresh_token>  Google refresh token.
    --token=<token>                  Session token from signin.
    --days=<days>                    Expected days until return.
    --metrics_addr=<metrics_addr>    Serve prometheus metrics at this address, e.g. :9090.
    -v                               Trace logging.`,
		dali.DefaultServerUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], DaliCtlVersion)
	if err != nil {
		panic(err)
	}

	initGlog(opts)
	defer glog.Flush()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var runErr error
	// observe first, since its targets are also commands
	if observe_, _ := opts.Bool("observe"); observe_ {
		runErr = observe(ctx, opts)
	} else if signin_, _ := opts.Bool("signin"); signin_ {
		runErr = signIn(ctx, opts)
	} else if whoami_, _ := opts.Bool("whoami"); whoami_ {
		runErr = whoami(ctx, opts)
	} else if equipment_, _ := opts.Bool("equipment"); equipment_ {
		runErr = equipment(ctx, opts)
	} else if events_, _ := opts.Bool("events"); events_ {
		runErr = upcomingEvents(ctx, opts)
	} else if food_, _ := opts.Bool("food"); food_ {
		runErr = food(ctx, opts)
	} else if location_, _ := opts.Bool("location"); location_ {
		runErr = sharedLocation(ctx, opts)
	} else {
		docopt.PrintHelpAndExit(nil, usage)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "%s\n", runErr)
		glog.Flush()
		os.Exit(1)
	}
}

func initGlog(opts docopt.Opts) {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	if verbose, _ := opts.Bool("-v"); verbose {
		flag.Set("v", fmt.Sprintf("%d", dali.LogLevelTrace))
	} else {
		flag.Set("v", "0")
	}
}

func loadConfig(opts docopt.Opts) (*dali.Config, error) {
	configPath, _ := opts.String("--config")
	if configPath == "" && os.Getenv("DALI_SERVER_URL") == "" {
		config := dali.NewConfig(dali.DefaultServerUrl)
		config.ApiKey = os.Getenv("DALI_API_KEY")
		if serverUrl, _ := opts.String("--server_url"); serverUrl != "" {
			config.ServerUrl = serverUrl
		}
		return config, config.Validate()
	}
	config, err := dali.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if serverUrl, _ := opts.String("--server_url"); serverUrl != "" {
		config.ServerUrl = serverUrl
	}
	return config, config.Validate()
}

// creates a client and restores the session from the token option, if any
func newClient(ctx context.Context, opts docopt.Opts, settings *dali.ClientSettings) (*dali.Client, error) {
	config, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	client, err := dali.NewClient(ctx, config, settings)
	if err != nil {
		return nil, err
	}

	token, _ := opts.String("--token")
	if token == "" {
		token = os.Getenv("DALI_TOKEN")
	}
	if token == "" {
		return client, nil
	}

	claims, err := dali.ParseSessionTokenUnverified(token)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("Invalid session token (%w).", err)
	}
	if !claims.ExpiresAt.IsZero() && !time.Now().Before(claims.ExpiresAt) {
		client.Close()
		return nil, errors.New("Session token expired. Sign in again.")
	}

	// the member lookup is authorized by the token itself
	client.Credentials().SetSession(token, nil)
	member, err := client.Members().Get(ctx, claims.MemberId)
	if err != nil {
		client.Close()
		return nil, err
	}
	client.Credentials().SetSession(token, member)
	return client, nil
}

func signIn(ctx context.Context, opts docopt.Opts) error {
	client, err := newClient(ctx, opts, dali.DefaultClientSettings())
	if err != nil {
		return err
	}
	defer client.Close()

	accessToken, _ := opts.String("--access_token")
	if accessToken == "" {
		fmt.Print("Enter access token: ")
		accessTokenBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return err
		}
		accessToken = string(accessTokenBytes)
		fmt.Printf("\n")
	}
	refreshToken, _ := opts.String("--refresh_token")

	member, err := client.SignIn(ctx, accessToken, refreshToken, true)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s (%s).\n", member.FullName, member.Email)
	fmt.Printf("%s\n", client.Credentials().Token())
	return nil
}

func whoami(ctx context.Context, opts docopt.Opts) error {
	client, err := newClient(ctx, opts, dali.DefaultClientSettings())
	if err != nil {
		return err
	}
	defer client.Close()

	member := client.CurrentMember()
	if member == nil {
		return dali.ErrSignInRequired
	}
	fmt.Printf("%s %s <%s>", member.Id, member.FullName, member.Email)
	if member.IsAdmin {
		fmt.Printf(" admin")
	}
	fmt.Printf("\n")
	return nil
}

func equipment(ctx context.Context, opts docopt.Opts) error {
	client, err := newClient(ctx, opts, dali.DefaultClientSettings())
	if err != nil {
		return err
	}
	defer client.Close()

	if list_, _ := opts.Bool("list"); list_ {
		equipments, err := client.Equipment().GetAll(ctx)
		if err != nil {
			return err
		}
		for _, equipment := range equipments {
			printEquipment(equipment)
		}
		return nil
	}

	equipmentId, _ := opts.String("<equipment_id>")
	equipment, err := client.Equipment().Get(ctx, equipmentId)
	if err != nil {
		return err
	}

	if checkout_, _ := opts.Bool("checkout"); checkout_ {
		var projectedEnd time.Time
		if days, err := opts.Int("--days"); err == nil && 0 < days {
			projectedEnd = time.Now().AddDate(0, 0, days)
		}
		equipment, err = client.Equipment().Checkout(ctx, equipment, projectedEnd)
	} else if return_, _ := opts.Bool("return"); return_ {
		equipment, err = client.Equipment().Return(ctx, equipment)
	}
	if err != nil {
		return err
	}
	printEquipment(equipment)
	return nil
}

func printEquipment(equipment *dali.Equipment) {
	if !equipment.IsCheckedOut() {
		fmt.Printf("%s %s available\n", equipment.Id, equipment.Name)
		return
	}
	checkedOutBy := equipment.LastCheckedOut.User.PendingId()
	if member := equipment.LastCheckedOut.User.Value(); member != nil {
		checkedOutBy = member.FullName
	}
	fmt.Printf("%s %s checked out by %s since %s\n", equipment.Id, equipment.Name, checkedOutBy, equipment.LastCheckedOut.StartDate.Local().Format(time.DateOnly))
}

func upcomingEvents(ctx context.Context, opts docopt.Opts) error {
	client, err := newClient(ctx, opts, dali.DefaultClientSettings())
	if err != nil {
		return err
	}
	defer client.Close()

	events, err := client.Events().GetUpcoming(ctx)
	if err != nil {
		return err
	}
	for _, event := range events {
		fmt.Printf("%s %s %s\n", event.Start.Local().Format(time.DateTime), event.Name, event.Location)
	}
	return nil
}

func food(ctx context.Context, opts docopt.Opts) error {
	client, err := newClient(ctx, opts, dali.DefaultClientSettings())
	if err != nil {
		return err
	}
	defer client.Close()

	if set_, _ := opts.Bool("set"); set_ {
		food, _ := opts.String("<food>")
		return client.Food().Set(ctx, food)
	} else if cancel_, _ := opts.Bool("cancel"); cancel_ {
		return client.Food().Cancel(ctx)
	}

	food, err := client.Food().Get(ctx)
	if err != nil {
		return err
	}
	if food == "" {
		fmt.Printf("No food tonight.\n")
	} else {
		fmt.Printf("%s\n", food)
	}
	return nil
}

func sharedLocation(ctx context.Context, opts docopt.Opts) error {
	client, err := newClient(ctx, opts, dali.DefaultClientSettings())
	if err != nil {
		return err
	}
	defer client.Close()

	members, err := client.Location().GetShared(ctx)
	if err != nil {
		return err
	}
	for _, member := range members {
		fmt.Printf("%s\n", member.FullName)
	}
	return nil
}

// prints push updates until interrupted
func observe(ctx context.Context, opts docopt.Opts) error {
	registry := prometheus.NewRegistry()
	settings := dali.DefaultClientSettings()
	settings.Metrics = dali.NewMetrics(registry)

	client, err := newClient(ctx, opts, settings)
	if err != nil {
		return err
	}
	defer client.Close()

	if metricsAddr, _ := opts.String("--metrics_addr"); metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{
			Addr:    metricsAddr,
			Handler: mux,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				glog.Errorf("[dalictl]metrics server error = %s\n", err)
			}
		}()
		defer metricsServer.Shutdown(context.Background())
	}

	done := make(chan error, 1)
	terminal := func(err error) {
		if errors.Is(err, dali.ErrUnauthorized) {
			select {
			case done <- err:
			default:
			}
		} else {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
	}

	var observation *dali.Observation
	if equipment_, _ := opts.Bool("equipment"); equipment_ {
		observation = client.Equipment().Observe(func(equipments []*dali.Equipment, err error) {
			if err != nil {
				terminal(err)
				return
			}
			for _, equipment := range equipments {
				printEquipment(equipment)
			}
		})
	} else if food_, _ := opts.Bool("food"); food_ {
		observation = client.Food().Observe(func(food string, err error) {
			if err != nil {
				terminal(err)
				return
			}
			fmt.Printf("food: %s\n", food)
		})
	} else {
		observation = client.Lights().Observe(func(state *dali.LightsState, err error) {
			if err != nil {
				terminal(err)
				return
			}
			for _, group := range append(state.Groups, state.All, state.Pods) {
				fmt.Printf("%s on=%t scene=%s color=%s\n", group.FormattedName(), group.IsOn, group.Scene, group.Color)
			}
		})
	}
	defer observation.Stop()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}
