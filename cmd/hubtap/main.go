package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/telemetry-tools/hubtap/cmd/internal"
	"github.com/telemetry-tools/hubtap/common"
	"github.com/telemetry-tools/hubtap/credentials"
	"github.com/telemetry-tools/hubtap/device"
	"github.com/telemetry-tools/hubtap/eventhub"
	"github.com/telemetry-tools/hubtap/hub"
)

// globally accessible by command handlers
var (
	// common
	debugFlag bool
	wsFlag    bool

	// watch
	groupFlag  string
	batchFlag  int
	tailFlag   bool
	formatFlag = internal.NewChoiceFlag("inspect", "json")

	// convert and watch
	validityFlag time.Duration
	timeoutFlag  time.Duration

	// token
	durationFlag time.Duration

	// send
	deviceCSFlag string
	midFlag      string
	cidFlag      string
	propsFlag    = internal.StringsMapFlag{}
)

func main() {
	if err := run(); err != nil {
		if err != internal.ErrInvalidUsage {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
		}
		os.Exit(1)
	}
}

const help = `Reads device-to-cloud telemetry from a hub's built-in event stream.
The $HUB_CONNECTION_STRING environment variable is required for authentication.`

func run() error {
	return internal.Run(context.Background(), help, []*internal.Command{
		{
			Name:    "watch",
			Alias:   "w",
			Desc:    "subscribe to device telemetry (D2C)",
			Handler: watchEvents,
			ParseFunc: func(f *flag.FlagSet) {
				f.StringVar(&groupFlag, "group", eventhub.DefaultConsumerGroup, "consumer group")
				f.IntVar(&batchFlag, "batch", 16, "max events per handler invocation")
				f.BoolVar(&tailFlag, "tail", false, "skip events enqueued before startup")
				f.Var(formatFlag, "format", "output format: inspect or json")
				f.DurationVar(&validityFlag, "validity", credentials.DefaultTokenDuration, "conversion token validity")
				f.DurationVar(&timeoutFlag, "timeout", hub.DefaultTimeout, "redirect wait limit, 0 disables")
			},
		},
		{
			Name:    "convert",
			Alias:   "cs",
			Desc:    "derive the event-stream connection string",
			Handler: convert,
			ParseFunc: func(f *flag.FlagSet) {
				f.DurationVar(&validityFlag, "validity", credentials.DefaultTokenDuration, "conversion token validity")
				f.DurationVar(&timeoutFlag, "timeout", hub.DefaultTimeout, "redirect wait limit, 0 disables")
			},
		},
		{
			Name:    "token",
			Alias:   "t",
			Help:    "[URI]",
			Desc:    "generate a SAS token, the hub hostname is the default resource",
			Handler: token,
			ParseFunc: func(f *flag.FlagSet) {
				f.DurationVar(&durationFlag, "duration", credentials.DefaultTokenDuration, "token validity time")
			},
		},
		{
			Name:    "send",
			Alias:   "s",
			Help:    "PAYLOAD [[key value]...]",
			Desc:    "publish a simulated telemetry message as a device",
			Handler: send,
			ParseFunc: func(f *flag.FlagSet) {
				f.StringVar(&deviceCSFlag, "cs", "", "device connection string, defaults to $DEVICE_CONNECTION_STRING")
				f.StringVar(&midFlag, "mid", "", "identifier for the message")
				f.StringVar(&cidFlag, "cid", "", "message identifier in a request-reply")
				f.Var(&propsFlag, "prop", "custom property, key=value, can be used multiple times")
			},
		},
	}, os.Args, func(f *flag.FlagSet) {
		f.BoolVar(&debugFlag, "debug", false, "enable debug logging")
		f.BoolVar(&wsFlag, "ws", false, "tunnel AMQP over WebSockets on port 443")
	})
}

func newHubClient() (*hub.Client, error) {
	opts := []hub.ClientOption{
		hub.WithWebSocket(wsFlag),
	}
	if validityFlag > 0 {
		opts = append(opts, hub.WithTokenValidity(validityFlag))
	}
	if timeoutFlag >= 0 {
		opts = append(opts, hub.WithTimeout(timeoutFlag))
	}
	if debugFlag {
		opts = append(opts, hub.WithLogger(
			common.NewLogger("hubtap", common.LevelDebug, log.Print),
		))
	}
	return hub.New(opts...)
}

func watchEvents(ctx context.Context, f *flag.FlagSet) error {
	if f.NArg() != 0 {
		return internal.ErrInvalidUsage
	}
	c, err := newHubClient()
	if err != nil {
		return err
	}

	opts := []eventhub.SubscribeOption{
		eventhub.WithSubscribeConsumerGroup(groupFlag),
		eventhub.WithSubscribeBatchSize(batchFlag),
		eventhub.WithSubscribeErrorHandler(func(err error) {
			fmt.Fprintf(os.Stderr, "stream error: %s\n", err)
		}),
	}
	if tailFlag {
		opts = append(opts, eventhub.WithSubscribeSince(time.Now()))
	}
	return c.SubscribeEvents(ctx, func(events []*eventhub.Event) error {
		for _, ev := range events {
			if formatFlag.String() == "json" {
				if err := internal.OutputJSON(ev); err != nil {
					return err
				}
				continue
			}
			if err := internal.OutputLine(ev.Inspect()); err != nil {
				return err
			}
		}
		return nil
	}, opts...)
}

func convert(ctx context.Context, f *flag.FlagSet) error {
	if f.NArg() != 0 {
		return internal.ErrInvalidUsage
	}
	c, err := newHubClient()
	if err != nil {
		return err
	}
	cs, err := c.EventHubConnectionString(ctx)
	if err != nil {
		return err
	}
	return internal.OutputLine(cs)
}

func token(ctx context.Context, f *flag.FlagSet) error {
	if f.NArg() > 1 {
		return internal.ErrInvalidUsage
	}
	c, err := newHubClient()
	if err != nil {
		return err
	}
	uri := f.Arg(0)
	if uri == "" {
		uri = c.Credentials().HostName
	}
	s, err := c.Credentials().GenerateToken(uri, credentials.WithDuration(durationFlag))
	if err != nil {
		return err
	}
	return internal.OutputLine(s)
}

func send(ctx context.Context, f *flag.FlagSet) error {
	if f.NArg() < 1 {
		return internal.ErrInvalidUsage
	}
	props, err := internal.ArgsToMap(f.Args()[1:])
	if err != nil {
		return err
	}
	for k, v := range propsFlag {
		props[k] = v
	}

	opts := []device.Option{}
	if deviceCSFlag != "" {
		opts = append(opts, device.WithConnectionString(deviceCSFlag))
	}
	if debugFlag {
		opts = append(opts, device.WithLogger(
			common.NewLogger("device", common.LevelDebug, log.Print),
		))
	}
	c, err := device.New(opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	if err = c.Connect(ctx); err != nil {
		return err
	}
	return c.SendEvent(ctx, []byte(f.Arg(0)),
		device.WithSendMessageID(midFlag),
		device.WithSendCorrelationID(cidFlag),
		device.WithSendProperties(props),
	)
}
