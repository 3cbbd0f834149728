package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenTransportCore/internal/station"
	"github.com/KevinKickass/OpenTransportCore/internal/types"
)

func deviceID(c *gin.Context) station.DeviceID {
	return station.DeviceID(c.Param("id"))
}

// GET /api/v1/channels
func (s *Server) listChannels(c *gin.Context) {
	channels := station.Channels()

	response := make([]types.ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		info := types.ChannelInfo{ID: string(ch.ID), Kind: ch.Kind.String(), Bits: ch.Bits()}
		for _, bit := range info.Bits {
			addr, err := station.AddressOf(bit)
			if err != nil {
				s.respondError(c, "Invalid channel map", err)
				return
			}
			info.Addresses = append(info.Addresses, addr.String())
		}
		response = append(response, info)
	}

	c.JSON(http.StatusOK, gin.H{
		"channels": response,
		"count":    len(response),
	})
}

// GET /api/v1/sensors
func (s *Server) readAllSensors(c *gin.Context) {
	readings, err := s.lm.Station().ReadSensors(c.Request.Context())
	if err != nil {
		s.respondError(c, "Failed to read sensors", err)
		return
	}

	response := make([]types.SensorValue, 0, len(readings))
	for _, r := range readings {
		response = append(response, types.SensorValue{
			Device: string(r.Device),
			Kind:   r.Sensor.Kind.String(),
			Sensor: r.Sensor.Name,
			Value:  r.Value,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sensors": response})
}

// sensorsOf reads all input words once and returns the sensors of id.
func (s *Server) sensorsOf(c *gin.Context, id station.DeviceID) (map[string]bool, bool) {
	readings, err := s.lm.Station().ReadSensors(c.Request.Context())
	if err != nil {
		s.respondError(c, "Failed to read sensors", err)
		return nil, false
	}

	sensors := make(map[string]bool)
	for _, r := range readings {
		if r.Device == id {
			sensors[r.Sensor.Name] = r.Value
		}
	}
	return sensors, true
}

// lookup resolves the id path parameter and checks its kind.
func (s *Server) lookup(c *gin.Context, kind station.Kind) (station.Channel, bool) {
	ch, err := station.Lookup(deviceID(c))
	if err != nil {
		s.respondError(c, "Unknown device", err)
		return station.Channel{}, false
	}
	if ch.Kind != kind {
		s.respondError(c, "Wrong device kind", station.ErrWrongKind)
		return station.Channel{}, false
	}
	return ch, true
}

// ==================== CONVEYORS ====================

func (s *Server) conveyorInfo(id station.DeviceID) (types.ConveyorInfo, error) {
	st := s.lm.Station()
	state, err := st.ConveyorState(id)
	if err != nil {
		return types.ConveyorInfo{}, err
	}
	speed, err := st.Speed(id)
	if err != nil {
		return types.ConveyorInfo{}, err
	}
	return types.ConveyorInfo{ID: string(id), State: state.String(), Speed: speed}, nil
}

// GET /api/v1/conveyors
func (s *Server) listConveyors(c *gin.Context) {
	ids := station.ConveyorIDs()
	response := make([]types.ConveyorInfo, 0, len(ids))
	for _, id := range ids {
		info, err := s.conveyorInfo(id)
		if err != nil {
			s.respondError(c, "Failed to read conveyor", err)
			return
		}
		response = append(response, info)
	}
	c.JSON(http.StatusOK, gin.H{"conveyors": response, "count": len(response)})
}

// GET /api/v1/conveyors/:id
func (s *Server) getConveyor(c *gin.Context) {
	ch, ok := s.lookup(c, station.KindConveyor)
	if !ok {
		return
	}

	info, err := s.conveyorInfo(ch.ID)
	if err != nil {
		s.respondError(c, "Failed to read conveyor", err)
		return
	}
	if info.Sensors, ok = s.sensorsOf(c, ch.ID); !ok {
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) driveConveyor(c *gin.Context, drive func(*station.Station, station.DeviceID) error) {
	id := deviceID(c)
	if err := drive(s.lm.Station(), id); err != nil {
		s.respondError(c, "Conveyor command failed", err)
		return
	}

	info, err := s.conveyorInfo(id)
	if err != nil {
		s.respondError(c, "Failed to read conveyor", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// POST /api/v1/conveyors/:id/forward
func (s *Server) conveyorForward(c *gin.Context) {
	s.driveConveyor(c, func(st *station.Station, id station.DeviceID) error {
		return st.Forward(c.Request.Context(), id)
	})
}

// POST /api/v1/conveyors/:id/backward
func (s *Server) conveyorBackward(c *gin.Context) {
	s.driveConveyor(c, func(st *station.Station, id station.DeviceID) error {
		return st.Backward(c.Request.Context(), id)
	})
}

// POST /api/v1/conveyors/:id/stop
func (s *Server) conveyorStop(c *gin.Context) {
	s.driveConveyor(c, func(st *station.Station, id station.DeviceID) error {
		return st.Stop(c.Request.Context(), id)
	})
}

// POST /api/v1/conveyors/stop
func (s *Server) stopAllConveyors(c *gin.Context) {
	if err := s.lm.Station().StopAll(c.Request.Context()); err != nil {
		s.respondError(c, "Failed to stop conveyors", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All conveyors stopped"})
}

// PUT /api/v1/conveyors/:id/speed
func (s *Server) setConveyorSpeed(c *gin.Context) {
	var req types.SpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	id := deviceID(c)
	if err := s.lm.Station().SetSpeed(c.Request.Context(), id, *req.Speed); err != nil {
		s.respondError(c, "Failed to set speed", err)
		return
	}

	info, err := s.conveyorInfo(id)
	if err != nil {
		s.respondError(c, "Failed to read conveyor", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// PUT /api/v1/conveyors/speed
func (s *Server) setAllConveyorSpeeds(c *gin.Context) {
	var req types.SpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	st := s.lm.Station()
	if err := st.SetSpeedAll(c.Request.Context(), *req.Speed); err != nil {
		s.respondError(c, "Failed to set speeds", err)
		return
	}

	speeds := make(map[string]int)
	for id, v := range st.Speeds() {
		speeds[string(id)] = v
	}
	c.JSON(http.StatusOK, gin.H{"speeds": speeds})
}

// ==================== SWITCHES ====================

// GET /api/v1/switches
func (s *Server) listSwitches(c *gin.Context) {
	ids := station.SwitchIDs()
	response := make([]types.SwitchInfo, 0, len(ids))
	for _, id := range ids {
		pos, err := s.lm.Station().SwitchSetting(id)
		if err != nil {
			s.respondError(c, "Failed to read switch", err)
			return
		}
		response = append(response, types.SwitchInfo{ID: string(id), Position: pos.String()})
	}
	c.JSON(http.StatusOK, gin.H{"switches": response, "count": len(response)})
}

// GET /api/v1/switches/:id
func (s *Server) getSwitch(c *gin.Context) {
	ch, ok := s.lookup(c, station.KindSwitch)
	if !ok {
		return
	}

	pos, err := s.lm.Station().SwitchSetting(ch.ID)
	if err != nil {
		s.respondError(c, "Failed to read switch", err)
		return
	}
	info := types.SwitchInfo{ID: string(ch.ID), Position: pos.String()}
	if info.Sensors, ok = s.sensorsOf(c, ch.ID); !ok {
		return
	}
	c.JSON(http.StatusOK, info)
}

// PUT /api/v1/switches/:id/position
func (s *Server) setSwitchPosition(c *gin.Context) {
	var req types.PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	id := deviceID(c)
	pos := station.SwitchPosition(*req.Position)
	if err := s.lm.Station().SetSwitch(c.Request.Context(), id, pos); err != nil {
		s.respondError(c, "Failed to set switch", err)
		return
	}
	c.JSON(http.StatusOK, types.SwitchInfo{ID: string(id), Position: pos.String()})
}

// ==================== SEPARATORS ====================

// GET /api/v1/separators
func (s *Server) listSeparators(c *gin.Context) {
	ids := station.SeparatorIDs()
	response := make([]types.SeparatorInfo, 0, len(ids))
	for _, id := range ids {
		response = append(response, types.SeparatorInfo{ID: string(id)})
	}
	c.JSON(http.StatusOK, gin.H{"separators": response, "count": len(response)})
}

// GET /api/v1/separators/:id
func (s *Server) getSeparator(c *gin.Context) {
	ch, ok := s.lookup(c, station.KindSeparator)
	if !ok {
		return
	}

	info := types.SeparatorInfo{ID: string(ch.ID)}
	if info.Sensors, ok = s.sensorsOf(c, ch.ID); !ok {
		return
	}
	c.JSON(http.StatusOK, info)
}

// POST /api/v1/separators/:id/set
func (s *Server) setSeparator(c *gin.Context) {
	if err := s.lm.Station().SetSeparator(c.Request.Context(), deviceID(c)); err != nil {
		s.respondError(c, "Failed to set separator", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "set": true})
}

// POST /api/v1/separators/:id/reset
func (s *Server) resetSeparator(c *gin.Context) {
	if err := s.lm.Station().ResetSeparator(c.Request.Context(), deviceID(c)); err != nil {
		s.respondError(c, "Failed to reset separator", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "set": false})
}

// ==================== RAW REGISTERS ====================

// GET /api/v1/registers/inputs
func (s *Server) readInputRegisters(c *gin.Context) {
	words, err := s.lm.Station().ReadInputRegisters(c.Request.Context(), 0, station.WordCount)
	if err != nil {
		s.respondError(c, "Failed to read input registers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"base": station.InputBase, "words": words})
}

// GET /api/v1/registers/outputs
func (s *Server) readOutputRegisters(c *gin.Context) {
	words, err := s.lm.Station().ReadOutputRegisters(c.Request.Context(), 0, station.WordCount)
	if err != nil {
		s.respondError(c, "Failed to read output registers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"base": station.OutputBase, "words": words})
}
