// Package api is the thin HTTP/WebSocket/SSE adapter over the simulation.
// It owns no simulation state itself: every handler either submits a
// command to the loop or takes the Fluid's read lock to build a snapshot.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/san-kum/fluidsim/internal/command"
	"github.com/san-kum/fluidsim/internal/division"
	"github.com/san-kum/fluidsim/internal/entities"
	"github.com/san-kum/fluidsim/internal/events"
	"github.com/san-kum/fluidsim/internal/loop"
	"github.com/san-kum/fluidsim/internal/state"
)

// Server wires the adapter's dependencies: the loop for mutation, the fluid
// for reads, and a logger for request-scoped diagnostics.
type Server struct {
	fluid    *state.Fluid
	loop     *loop.Loop
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// New builds a Server. The returned *gin.Engine is ready to ListenAndServe.
func New(fluid *state.Fluid, l *loop.Loop, log *zap.Logger) (*Server, *gin.Engine) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		fluid: fluid,
		loop:  l,
		log:   log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Content-Type")
	router.Use(cors.New(corsCfg))

	router.POST("/inject", s.handleInject)
	router.PATCH("/ballast", s.handleBallast)
	router.GET("/strata", s.handleStrata)
	router.GET("/vents", s.handleVents)
	router.GET("/vent/:i", s.handleVent)
	router.POST("/vent", s.handleAddVent)
	router.GET("/continents", s.handleContinents)
	router.POST("/continent", s.handleTriggerContinent)
	router.POST("/thaw", s.handleThaw)
	router.POST("/breath", s.handleDeepBreath)
	router.POST("/flash-heal", s.handleFlashHeal)
	router.GET("/state", s.handleState)
	router.GET("/events", s.handleEventsSSE)
	router.GET("/ws", s.handleWS)
	router.POST("/divide", s.handleStartDivision)
	router.GET("/divide/status", s.handleDivisionStatus)
	router.GET("/divide/results", s.handleDivisionResults)

	return s, router
}

// writeCommandError maps a command-package error to the HTTP status it
// implies.
func writeCommandError(c *gin.Context, err error) {
	switch err.(type) {
	case *command.OutOfRangeError:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch err {
	case command.ErrNoSuchConcept, command.ErrNoSuchVent:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case command.ErrExperimentBusy:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func (s *Server) dispatch(c *gin.Context, cmd command.Command) (command.Result, bool) {
	res, err := s.loop.Submit(c.Request.Context(), cmd)
	if err != nil {
		writeCommandError(c, err)
		return command.Result{}, false
	}
	return res, true
}

type injectRequest struct {
	Name    string  `json:"concept" binding:"required"`
	Density float64 `json:"density"`
	Volume  float64 `json:"volume"`
}

func (s *Server) handleInject(c *gin.Context) {
	var req injectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, ok := s.dispatch(c, command.Command{
		Kind:    command.KindInject,
		Name:    req.Name,
		Density: req.Density,
		Volume:  req.Volume,
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":            res.ConceptID.String(),
		"name":          res.Name,
		"density":       res.Density,
		"area":          res.Area,
		"initial_layer": res.InitialLayer,
	})
}

type ballastRequest struct {
	ConceptID string  `json:"id" binding:"required"`
	Delta     float64 `json:"weight_delta"`
}

func (s *Server) handleBallast(c *gin.Context) {
	var req ballastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := uuid.Parse(req.ConceptID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if _, ok := s.dispatch(c, command.Command{Kind: command.KindBallast, ConceptID: id, Delta: req.Delta}); !ok {
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStrata(c *gin.Context) {
	dMin, _ := strconv.ParseFloat(c.DefaultQuery("depth_min", "0"), 64)
	dMax, _ := strconv.ParseFloat(c.DefaultQuery("depth_max", "1"), 64)

	s.fluid.RLock()
	snap := s.fluid.Strata(dMin, dMax)
	s.fluid.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"depth_range":    gin.H{"min": snap.DepthMin, "max": snap.DepthMax},
		"concepts":       conceptsJSON(snap.Concepts),
		"ores":           oresJSON(snap.Ores),
		"total_concepts": len(snap.Concepts),
		"total_ores":     len(snap.Ores),
	})
}

func (s *Server) handleVents(c *gin.Context) {
	s.fluid.RLock()
	vents := s.fluid.Vents
	out := ventsJSON(vents)
	s.fluid.RUnlock()
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleVent(c *gin.Context) {
	i, err := strconv.Atoi(c.Param("i"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid vent index"})
		return
	}
	s.fluid.RLock()
	v, ok := s.fluid.Vent(i)
	var out gin.H
	if ok {
		out = ventJSON(v)
	}
	s.fluid.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": command.ErrNoSuchVent.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

type addVentRequest struct {
	Name       string  `json:"name" binding:"required"`
	HeatOutput float64 `json:"heat_output"`
	Depth      float64 `json:"depth"`
	Radius     float64 `json:"radius"`
}

func (s *Server) handleAddVent(c *gin.Context) {
	var req addVentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, ok := s.dispatch(c, command.Command{
		Kind:       command.KindAddCoreTruth,
		Name:       req.Name,
		HeatOutput: req.HeatOutput,
		Depth:      req.Depth,
		Radius:     req.Radius,
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": res.Name})
}

func (s *Server) handleContinents(c *gin.Context) {
	s.fluid.RLock()
	out := continentsJSON(s.fluid.Continents)
	s.fluid.RUnlock()
	c.JSON(http.StatusOK, out)
}

type triggerContinentRequest struct {
	PressureThreshold float64 `json:"pressure_threshold"`
}

func (s *Server) handleTriggerContinent(c *gin.Context) {
	var req triggerContinentRequest
	_ = c.ShouldBindJSON(&req)
	res, ok := s.dispatch(c, command.Command{
		Kind:              command.KindTriggerContinent,
		PressureThreshold: req.PressureThreshold,
	})
	if !ok {
		return
	}
	if res.Pending {
		c.JSON(http.StatusOK, gin.H{"status": "pending", "current_pressure": res.CurrentPressure})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "formed", "continent_name": res.Name})
}

func (s *Server) handleThaw(c *gin.Context) {
	if _, ok := s.dispatch(c, command.Command{Kind: command.KindThaw}); !ok {
		return
	}
	c.Status(http.StatusNoContent)
}

type deepBreathRequest struct {
	Strength float64 `json:"strength"`
}

func (s *Server) handleDeepBreath(c *gin.Context) {
	var req deepBreathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := s.dispatch(c, command.Command{Kind: command.KindDeepBreath, Strength: req.Strength}); !ok {
		return
	}
	c.Status(http.StatusNoContent)
}

type flashHealRequest struct {
	Concepts []struct {
		Name    string  `json:"name"`
		Density float64 `json:"density"`
		Area    float64 `json:"area"`
	} `json:"concepts"`
	Dilution float64 `json:"dilution_strength"`
}

func (s *Server) handleFlashHeal(c *gin.Context) {
	var req flashHealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	concepts := make([]state.FlashHealConcept, len(req.Concepts))
	for i, fc := range req.Concepts {
		concepts[i] = state.FlashHealConcept{Name: fc.Name, Density: fc.Density, Area: fc.Area}
	}
	if _, ok := s.dispatch(c, command.Command{
		Kind:         command.KindFlashHeal,
		HealConcepts: concepts,
		Dilution:     req.Dilution,
	}); !ok {
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleState(c *gin.Context) {
	s.fluid.RLock()
	snap := s.fluid.FullState()
	s.fluid.RUnlock()
	c.JSON(http.StatusOK, fullStateJSON(snap))
}

// handleEventsSSE streams events as Server-Sent Events until the client
// disconnects.
func (s *Server) handleEventsSSE(c *gin.Context) {
	cursor := s.fluid.Events.Subscribe()
	defer cursor.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				ev, ok := cursor.Next()
				if !ok {
					break
				}
				if cursor.Lagged() {
					// Transient backpressure (spec.md §7): not an error, just a
					// comment line so the client knows it dropped events.
					c.Writer.WriteString(": lag, events dropped\n\n")
				}
				c.SSEvent(string(ev.Kind), eventJSON(ev))
			}
			c.Writer.Flush()
		}
	}
}

// handleWS streams events over a WebSocket connection and accepts inbound
// JSON command frames, replying with an ack or error per frame (spec.md §6).
func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	cursor := s.fluid.Events.Subscribe()
	defer cursor.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	go s.readCommands(ctx, cancel, conn, writeJSON)

	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				ev, ok := cursor.Next()
				if !ok {
					break
				}
				if err := writeJSON(eventJSON(ev)); err != nil {
					return
				}
			}
		}
	}
}

// wsFrame is an inbound WS command frame: {"command": "Inject", ...fields}
// matching the dispatcher's Kind plus per-kind fields (§4.3).
type wsFrame struct {
	Command string `json:"command"`

	Name    string  `json:"name"`
	Density float64 `json:"density"`
	Volume  float64 `json:"volume"`

	ConceptID string  `json:"id"`
	Delta     float64 `json:"delta"`

	Strength float64 `json:"strength"`

	HeatOutput float64 `json:"heat_output"`
	Depth      float64 `json:"depth"`
	Radius     float64 `json:"radius"`

	Dilution float64 `json:"dilution_strength"`
	Concepts []struct {
		Name    string  `json:"name"`
		Density float64 `json:"density"`
		Area    float64 `json:"area"`
	} `json:"concepts"`

	PressureThreshold float64 `json:"pressure_threshold"`

	Dividend      int     `json:"dividend"`
	Divisor       int     `json:"divisor"`
	SalinityBoost float64 `json:"salinity_boost"`
}

// readCommands reads inbound WS frames, dispatches each as a command, and
// writes back an ack or error reply. It cancels ctx once the connection
// drops (read error or close frame).
func (s *Server) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, writeJSON func(any) error) {
	defer cancel()
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		cmd, err := frame.toCommand()
		if err != nil {
			_ = writeJSON(gin.H{"command": frame.Command, "error": err.Error()})
			continue
		}

		res, err := s.loop.Submit(ctx, cmd)
		if err != nil {
			_ = writeJSON(gin.H{"command": frame.Command, "error": err.Error()})
			continue
		}
		_ = writeJSON(gin.H{"command": frame.Command, "ack": true, "result": wsResultJSON(cmd.Kind, res)})
	}
}

func (f *wsFrame) toCommand() (command.Command, error) {
	kind := command.Kind(f.Command)
	switch kind {
	case command.KindInject:
		return command.Command{Kind: kind, Name: f.Name, Density: f.Density, Volume: f.Volume}, nil
	case command.KindBallast, command.KindModulateBuoyancy:
		id, err := uuid.Parse(f.ConceptID)
		if err != nil {
			return command.Command{}, fmt.Errorf("invalid id %q", f.ConceptID)
		}
		return command.Command{Kind: kind, ConceptID: id, Delta: f.Delta}, nil
	case command.KindThaw:
		return command.Command{Kind: kind}, nil
	case command.KindDeepBreath:
		return command.Command{Kind: kind, Strength: f.Strength}, nil
	case command.KindAddCoreTruth:
		return command.Command{Kind: kind, Name: f.Name, HeatOutput: f.HeatOutput, Depth: f.Depth, Radius: f.Radius}, nil
	case command.KindFlashHeal:
		concepts := make([]state.FlashHealConcept, len(f.Concepts))
		for i, fc := range f.Concepts {
			concepts[i] = state.FlashHealConcept{Name: fc.Name, Density: fc.Density, Area: fc.Area}
		}
		return command.Command{Kind: kind, HealConcepts: concepts, Dilution: f.Dilution}, nil
	case command.KindTriggerContinent:
		return command.Command{Kind: kind, PressureThreshold: f.PressureThreshold}, nil
	case command.KindStartDivision:
		return command.Command{Kind: kind, Dividend: f.Dividend, Divisor: f.Divisor, SalinityBoost: f.SalinityBoost}, nil
	default:
		return command.Command{}, fmt.Errorf("unknown command %q", f.Command)
	}
}

// wsResultJSON shapes a command.Result for the WS ack, mirroring the REST
// handler's per-kind response fields.
func wsResultJSON(kind command.Kind, res command.Result) gin.H {
	switch kind {
	case command.KindInject:
		return gin.H{"id": res.ConceptID.String(), "name": res.Name, "density": res.Density, "area": res.Area, "initial_layer": res.InitialLayer}
	case command.KindBallast:
		return gin.H{"id": res.ConceptID.String(), "density": res.Density}
	case command.KindTriggerContinent:
		if res.Pending {
			return gin.H{"status": "pending", "current_pressure": res.CurrentPressure}
		}
		return gin.H{"status": "formed", "continent_name": res.Name}
	default:
		return gin.H{"status": "ok"}
	}
}

type startDivisionRequest struct {
	Dividend      int     `json:"dividend" binding:"required"`
	Divisor       int     `json:"divisor" binding:"required"`
	SalinityBoost float64 `json:"salinity_boost"`
}

func (s *Server) handleStartDivision(c *gin.Context) {
	var req startDivisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := s.dispatch(c, command.Command{
		Kind:          command.KindStartDivision,
		Dividend:      req.Dividend,
		Divisor:       req.Divisor,
		SalinityBoost: req.SalinityBoost,
	}); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleDivisionStatus(c *gin.Context) {
	s.fluid.RLock()
	defer s.fluid.RUnlock()

	if s.fluid.Division == nil {
		c.JSON(http.StatusOK, gin.H{"status": "idle"})
		return
	}
	exp := s.fluid.Division
	c.JSON(http.StatusOK, gin.H{
		"status":         "running",
		"tick":           exp.Tick(),
		"velocity_sigma": exp.VelocitySigma(),
	})
}

func (s *Server) handleDivisionResults(c *gin.Context) {
	s.fluid.RLock()
	results := s.fluid.DivisionResults
	out := make([]gin.H, len(results))
	for i, r := range results {
		out[i] = divisionResultJSON(r)
	}
	s.fluid.RUnlock()
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func conceptsJSON(concepts []*entities.Concept) []gin.H {
	out := make([]gin.H, len(concepts))
	for i, c := range concepts {
		out[i] = gin.H{
			"id":          c.ID.String(),
			"name":        c.Name,
			"density":     c.Density,
			"buoyancy":    c.Buoyancy,
			"area":        c.Area,
			"layer":       c.Layer,
			"velocity":    c.Velocity,
			"integration": c.Integration,
			"status":      c.Status.String(),
		}
	}
	return out
}

func oresJSON(ores []*entities.PreciousOre) []gin.H {
	out := make([]gin.H, len(ores))
	for i, o := range ores {
		out[i] = gin.H{
			"name":                o.Name,
			"depth":               o.Depth,
			"kind":                o.Kind.String(),
			"pressure":            o.Pressure,
			"origin_concept_name": o.OriginConceptName,
		}
	}
	return out
}

func ventJSON(v *entities.CoreTruth) gin.H {
	return gin.H{
		"name":             v.Name,
		"heat_output":      v.HeatOutput,
		"depth":            v.Depth,
		"radius":           v.Radius,
		"activation_count": v.ActivationCount,
	}
}

func ventsJSON(vents []*entities.CoreTruth) []gin.H {
	out := make([]gin.H, len(vents))
	for i, v := range vents {
		out[i] = ventJSON(v)
	}
	return out
}

func continentsJSON(continents []*entities.Continent) []gin.H {
	out := make([]gin.H, len(continents))
	for i, ct := range continents {
		composition := make(map[string]int, len(ct.Composition))
		for k, v := range ct.Composition {
			composition[k.String()] = v
		}
		out[i] = gin.H{
			"name":               ct.Name,
			"formation_pressure": ct.FormationPressure,
			"composition":        composition,
		}
	}
	return out
}

func traitsJSON(traits []*entities.CharacterTrait) []gin.H {
	out := make([]gin.H, len(traits))
	for i, t := range traits {
		out[i] = gin.H{
			"name":                 t.Name,
			"crystallized_at_tick": t.CrystallizedAtTick,
			"source_concept_name":  t.SourceConceptName,
		}
	}
	return out
}

func fullStateJSON(snap state.FullStateSnapshot) gin.H {
	return gin.H{
		"concepts":   conceptsJSON(snap.Concepts),
		"vents":      ventsJSON(snap.Vents),
		"ores":       oresJSON(snap.Ores),
		"continents": continentsJSON(snap.Continents),
		"traits":     traitsJSON(snap.Traits),
		"salinity":   snap.Salinity,
		"turbulence": snap.Turbulence,
		"frozen":     snap.Frozen,
		"tick":       snap.Tick,
	}
}

func eventJSON(ev events.Event) gin.H {
	return gin.H{
		"seq":     ev.Seq,
		"kind":    string(ev.Kind),
		"tick":    ev.Tick,
		"payload": ev.Payload,
	}
}

func divisionResultJSON(r division.Result) gin.H {
	return gin.H{
		"dividend":          r.Dividend,
		"divisor":           r.Divisor,
		"quotient":          r.Quotient,
		"remainder":         r.Remainder,
		"is_divisible":      r.IsDivisible,
		"peak_jitter":       r.PeakJitter,
		"velocity_sigma":    r.VelocitySigma,
		"turbulence_energy": r.TurbulenceEnergy,
		"ticks_to_settle":   r.TicksToSettle,
		"node_occupancy":    r.NodeOccupancy,
		"salinity_boost":    r.SalinityBoost,
		"interpretation":    r.Interpretation,
	}
}
