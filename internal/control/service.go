// Package control is the network control service: it parses, validates and
// applies requests in the smart-lighting ecosystem's v1 API dialect and
// serialises state into responses. Transport lives elsewhere; a Request here
// is already routed.
package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbd/internal/light"
	"github.com/dokzlo13/bulbd/internal/store"
)

// Op is a routed API operation.
type Op int

const (
	OpUnsupported Op = iota
	OpCreateUser
	OpPublicConfig
	OpConfig
	OpFullState
	OpListLights
	OpGetLight
	OpSetState
)

func (o Op) String() string {
	switch o {
	case OpCreateUser:
		return "create_user"
	case OpPublicConfig:
		return "public_config"
	case OpConfig:
		return "config"
	case OpFullState:
		return "full_state"
	case OpListLights:
		return "list_lights"
	case OpGetLight:
		return "get_light"
	case OpSetState:
		return "set_state"
	default:
		return "unsupported"
	}
}

// Request is one routed API call. Method and Path are only used to describe
// unsupported calls.
type Request struct {
	Op     Op
	Method string
	Path   string
	User   string
	Light  string
	Body   []byte
}

// Response is a serialised reply. Err is the protocol error carried in Body,
// if any.
type Response struct {
	Status  int
	Body    []byte
	Err     *Error
	Changed bool
}

// Options configures a Service.
type Options struct {
	Descriptor light.Descriptor
	IP         string
	Netmask    string
	Gateway    string

	// Tick is the render period that transition times are quantised to.
	Tick time.Duration
	// DefaultTransition applies when a state write omits transitiontime.
	DefaultTransition time.Duration

	LinkButton  bool
	RequireAuth bool

	Now      func() time.Time
	OnChange func()
	OnPhase  func(Phase)
}

// Service runs the request state machine. Handle is meant to be called from
// one task at a time.
type Service struct {
	store        *store.Store
	opts         Options
	users        Whitelist
	phase        atomic.Int32
	defaultTicks uint16
}

// New creates a Service over st.
func New(st *store.Store, opts Options) *Service {
	if opts.Tick <= 0 {
		opts.Tick = 20 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{store: st, opts: opts}
	s.defaultTicks = s.ticksFor(opts.DefaultTransition)
	return s
}

// Phase returns the machine's current phase.
func (s *Service) Phase() Phase {
	return Phase(s.phase.Load())
}

// Users exposes the whitelist.
func (s *Service) Users() *Whitelist {
	return &s.users
}

func (s *Service) enter(p Phase) {
	prev := Phase(s.phase.Swap(int32(p)))
	if !prev.next(p) {
		log.Debug().Stringer("from", prev).Stringer("to", p).Msg("Unexpected control phase change")
	}
	if s.opts.OnPhase != nil {
		s.opts.OnPhase(p)
	}
}

// ticksFor converts a duration to render ticks, rounding up.
func (s *Service) ticksFor(d time.Duration) uint16 {
	if d <= 0 {
		return 0
	}
	n := (d + s.opts.Tick - 1) / s.opts.Tick
	if n > 0xffff {
		return 0xffff
	}
	return uint16(n)
}

// Handle runs one request through Parsing, Validating, Applying and
// Responding and returns to Idle. It never panics on client input.
func (s *Service) Handle(req Request) Response {
	s.enter(PhaseParsing)
	result, changed, perr := s.dispatch(req)

	s.enter(PhaseResponding)
	resp := s.respond(result, perr)
	resp.Changed = changed

	s.enter(PhaseIdle)
	return resp
}

func (s *Service) dispatch(req Request) (any, bool, *Error) {
	switch req.Op {
	case OpCreateUser:
		return s.createUser(req)
	case OpPublicConfig:
		s.enter(PhaseValidating)
		return s.publicConfig(), false, nil
	case OpConfig:
		s.enter(PhaseValidating)
		if err := s.authorize(req.User, "/config"); err != nil {
			return nil, false, err
		}
		return s.config(), false, nil
	case OpFullState:
		s.enter(PhaseValidating)
		if err := s.authorize(req.User, "/"); err != nil {
			return nil, false, err
		}
		lights, err := s.lights()
		if err != nil {
			return nil, false, err
		}
		return FullState{Lights: lights, Config: s.config()}, false, nil
	case OpListLights:
		s.enter(PhaseValidating)
		if err := s.authorize(req.User, "/lights"); err != nil {
			return nil, false, err
		}
		lights, err := s.lights()
		if err != nil {
			return nil, false, err
		}
		return lights, false, nil
	case OpGetLight:
		s.enter(PhaseValidating)
		info, err := s.lookup(req.User, req.Light, "/lights/"+req.Light)
		if err != nil {
			return nil, false, err
		}
		st, err := s.read(info.ID)
		if err != nil {
			return nil, false, err
		}
		return NewLight(info, st), false, nil
	case OpSetState:
		return s.setState(req)
	default:
		s.enter(PhaseValidating)
		return nil, false, errMethod(req.Method, req.Path)
	}
}

// ErrorResponse wraps perr in the ecosystem's error array.
func ErrorResponse(status int, perr *Error) Response {
	body, _ := json.Marshal([]map[string]*Error{{"error": perr}})
	return Response{Status: status, Body: body, Err: perr}
}

func (s *Service) respond(result any, perr *Error) Response {
	if perr != nil {
		return ErrorResponse(http.StatusOK, perr)
	}
	body, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode control response")
		return ErrorResponse(http.StatusInternalServerError, errBusy("/"))
	}
	return Response{Status: http.StatusOK, Body: body}
}

func (s *Service) authorize(user, addr string) *Error {
	known := s.users.Touch(user, s.opts.Now())
	if s.opts.RequireAuth && !known {
		return errUnauthorized(addr)
	}
	return nil
}

func (s *Service) lookup(user, id, addr string) (light.Info, *Error) {
	if err := s.authorize(user, addr); err != nil {
		return light.Info{}, err
	}
	n, err := strconv.Atoi(id)
	if err != nil {
		return light.Info{}, errNotAvailable(addr)
	}
	info, ok := s.store.Info(n)
	if !ok {
		return light.Info{}, errNotAvailable(addr)
	}
	return info, nil
}

// read takes a light's state, retrying once on contention.
func (s *Service) read(id int) (light.State, *Error) {
	st, err := s.store.Read(id)
	if errors.Is(err, store.ErrLockContention) {
		st, err = s.store.Read(id)
	}
	switch {
	case err == nil:
		return st, nil
	case errors.Is(err, store.ErrUnknownLight):
		return light.State{}, errNotAvailable("/lights/" + strconv.Itoa(id))
	default:
		return light.State{}, errBusy("/lights/" + strconv.Itoa(id))
	}
}

func (s *Service) lights() (map[string]Light, *Error) {
	infos := s.store.Infos()
	out := make(map[string]Light, len(infos))
	for _, info := range infos {
		st, err := s.read(info.ID)
		if err != nil {
			return nil, err
		}
		out[strconv.Itoa(info.ID)] = NewLight(info, st)
	}
	return out, nil
}

func (s *Service) publicConfig() PublicConfig {
	d := s.opts.Descriptor
	return PublicConfig{
		Name:             d.Name,
		DatastoreVersion: "1",
		SwVersion:        d.SwVersion,
		APIVersion:       d.APIVersion,
		MAC:              d.MAC,
		BridgeID:         d.BridgeID,
		ModelID:          d.ModelID,
	}
}

func (s *Service) config() Config {
	now := s.opts.Now()
	return Config{
		PublicConfig: s.publicConfig(),
		IPAddress:    s.opts.IP,
		Netmask:      s.opts.Netmask,
		Gateway:      s.opts.Gateway,
		DHCP:         true,
		ProxyAddress: "none",
		UTC:          formatTime(now.UTC()),
		LocalTime:    formatTime(now),
		Timezone:     now.Location().String(),
		LinkButton:   s.opts.LinkButton,
		Whitelist:    s.users.Entries(),
	}
}

func (s *Service) createUser(req Request) (any, bool, *Error) {
	var body struct {
		DeviceType        *string `json:"devicetype"`
		GenerateClientKey bool    `json:"generateclientkey"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, false, errInvalidJSON("")
	}

	s.enter(PhaseValidating)
	if body.DeviceType == nil || *body.DeviceType == "" {
		return nil, false, errMissing("")
	}
	if !s.opts.LinkButton {
		return nil, false, errLinkButton()
	}

	s.enter(PhaseApplying)
	success := map[string]string{"username": s.users.Add(*body.DeviceType, s.opts.Now())}
	if body.GenerateClientKey {
		success["clientkey"] = clientKey()
	}
	log.Info().Str("devicetype", *body.DeviceType).Msg("Created API user")
	return []map[string]map[string]string{{"success": success}}, false, nil
}
