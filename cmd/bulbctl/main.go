// Command bulbctl talks to a bulbd device (or any Hue-compatible bridge)
// over the v1 REST API.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/amimof/huego"

	"github.com/dokzlo13/bulbd/internal/control"
)

const usage = `usage: bulbctl [-host addr] [-user name] <command> [args]

commands:
  pair                      create a user (press the link button first)
  lights                    list lights and their state
  set <id> [flags]          change one light
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "bulbctl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("bulbctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }
	host := fs.String("host", os.Getenv("BULBD_HOST"), "device address (host[:port])")
	user := fs.String("user", os.Getenv("BULBD_USER"), "API username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *host == "" {
		return errors.New("no device address, use -host or BULBD_HOST")
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	bridge := huego.New(*host, *user)
	switch cmd, rest := fs.Arg(0), fs.Args()[1:]; cmd {
	case "pair":
		name, err := bridge.CreateUser("bulbctl#cli")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, name)
		return nil
	case "lights":
		return listLights(bridge, out)
	case "set":
		return setLight(bridge, rest, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func listLights(bridge *huego.Bridge, out io.Writer) error {
	lights, err := bridge.GetLights()
	if err != nil {
		return err
	}
	sort.Slice(lights, func(i, j int) bool { return lights[i].ID < lights[j].ID })

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMODEL\tON\tBRI\tMODE\tCOLOR")
	for _, l := range lights {
		st := l.State
		if st == nil {
			st = &huego.State{}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%d\t%s\t%s\n",
			l.ID, l.Name, l.ModelID, st.On, st.Bri, st.ColorMode, describeColor(st))
	}
	return tw.Flush()
}

func describeColor(st *huego.State) string {
	switch st.ColorMode {
	case "xy":
		if len(st.Xy) == 2 {
			return fmt.Sprintf("xy=%.4f,%.4f", st.Xy[0], st.Xy[1])
		}
	case "ct":
		return fmt.Sprintf("ct=%d", st.Ct)
	case "hs":
		return fmt.Sprintf("hue=%d sat=%d", st.Hue, st.Sat)
	}
	return "-"
}

// stateChange is the PUT body. Pointer fields keep explicit zeros such as
// hue 0 or an immediate transition, which huego.State would omit.
type stateChange struct {
	On             bool      `json:"on"`
	Bri            *uint8    `json:"bri,omitempty"`
	Hue            *uint16   `json:"hue,omitempty"`
	Sat            *uint8    `json:"sat,omitempty"`
	XY             []float32 `json:"xy,omitempty"`
	CT             *uint16   `json:"ct,omitempty"`
	TransitionTime *uint16   `json:"transitiontime,omitempty"`
}

func setLight(bridge *huego.Bridge, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("set: missing light id")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("set: light id %q: %w", args[0], err)
	}
	change, err := parseState(args[1:])
	if err != nil {
		return err
	}
	if err := putState(bridge, id, change); err != nil {
		return err
	}
	fmt.Fprintf(out, "light %d updated\n", id)
	return nil
}

func putState(bridge *huego.Bridge, id int, change stateChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return err
	}
	base := bridge.Host
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	url := fmt.Sprintf("%s/api/%s/lights/%d/state", strings.TrimRight(base, "/"), bridge.User, id)

	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var results []struct {
		Error *control.Error `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return fmt.Errorf("set: %s: %w", resp.Status, err)
	}
	var errs []error
	for _, r := range results {
		if r.Error != nil {
			errs = append(errs, fmt.Errorf("%s: %s (type %d)", r.Error.Address, r.Error.Description, r.Error.Type))
		}
	}
	return errors.Join(errs...)
}

// parseState turns set flags into a state change. The light is switched on
// unless -off is given.
func parseState(args []string) (stateChange, error) {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		off        = fs.Bool("off", false, "switch off")
		bri        = fs.Int("bri", -1, "brightness 1-254")
		hue        = fs.Int("hue", -1, "hue 0-65535")
		sat        = fs.Int("sat", -1, "saturation 0-254")
		ct         = fs.Int("ct", -1, "colour temperature in mireds")
		xy         = fs.String("xy", "", "CIE coordinates as x,y")
		transition = fs.Duration("transition", -1, "fade time, rounded to 100ms")
	)
	if err := fs.Parse(args); err != nil {
		return stateChange{}, fmt.Errorf("set: %w", err)
	}

	st := stateChange{On: !*off}
	if *bri >= 0 {
		if *bri > 254 {
			return st, fmt.Errorf("set: bri %d out of range", *bri)
		}
		v := uint8(*bri)
		st.Bri = &v
	}
	if *hue >= 0 {
		if *hue > 65535 {
			return st, fmt.Errorf("set: hue %d out of range", *hue)
		}
		v := uint16(*hue)
		st.Hue = &v
	}
	if *sat >= 0 {
		if *sat > 254 {
			return st, fmt.Errorf("set: sat %d out of range", *sat)
		}
		v := uint8(*sat)
		st.Sat = &v
	}
	if *ct >= 0 {
		if *ct > 65535 {
			return st, fmt.Errorf("set: ct %d out of range", *ct)
		}
		v := uint16(*ct)
		st.CT = &v
	}
	if *xy != "" {
		x, y, ok := strings.Cut(*xy, ",")
		if !ok {
			return st, fmt.Errorf("set: xy %q must be x,y", *xy)
		}
		fx, errX := strconv.ParseFloat(strings.TrimSpace(x), 32)
		fy, errY := strconv.ParseFloat(strings.TrimSpace(y), 32)
		if errX != nil || errY != nil {
			return st, fmt.Errorf("set: xy %q must be x,y", *xy)
		}
		st.XY = []float32{float32(fx), float32(fy)}
	}
	if *transition >= 0 {
		units := *transition / (100 * time.Millisecond)
		if units > 65535 {
			return st, fmt.Errorf("set: transition %v too long", *transition)
		}
		v := uint16(units)
		st.TransitionTime = &v
	}
	return st, nil
}
