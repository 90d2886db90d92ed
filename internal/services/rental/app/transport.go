package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/platform/errors"
	"github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/services/rental/domain"
	"github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/services/rental/engine"
)

const (
	userTokenQueryParam = "token"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

// Frame types exchanged over the websocket. Inbound frames are intents owned
// by the mutation engine; outbound frames carry snapshots and signals.
const (
	frameSystemToggle   = "system.toggle"
	frameStationSetOpen = "station.set_open"
	frameBikeWithdraw   = "bike.withdraw"
	frameBikeReturn     = "bike.return"

	frameStateInit    = "state.init"
	frameStateChanged = "state.changed"
	frameStationFull  = "station.full"
	frameError        = "rental.error"
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Details   map[string]string `json:"details,omitempty"`
}

type statePayload struct {
	State domain.State `json:"state"`
}

type stationFullPayload struct {
	StationID  string `json:"station_id"`
	OccurredAt string `json:"occurred_at"`
}

type stationSetOpenPayload struct {
	StationID string `json:"station_id"`
	Open      bool   `json:"open"`
}

type bikePayload struct {
	StationID string `json:"station_id"`
	BikeID    string `json:"bike_id"`
}

// NewHandler wires a fresh hub and engine around the given state and returns
// the HTTP routes. Used by tests and offline paths; the server constructor
// goes through the same wiring.
func NewHandler(state *domain.State) http.Handler {
	hub := newHub()
	eng := engine.New(state, hub)
	return newHandler(eng, hub)
}

func newHandler(eng *engine.Engine, hub *hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, eng, hub)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

// handleWSConn serves one client: snapshot on connect, then a frame loop of
// intents. The identity token travels with every operation so the engine
// resolves it against the user set authoritatively; clients with an unknown
// or absent token may still observe state.
func handleWSConn(conn *websocket.Conn, eng *engine.Engine, hub *hub) {
	defer func() {
		_ = conn.Close()
	}()

	token := ""
	if request := conn.Request(); request != nil {
		token = strings.TrimSpace(request.URL.Query().Get(userTokenQueryParam))
	}
	if user, ok := eng.ResolveUser(token); ok {
		log.Printf("rental: client connected user=%s role=%s", user.ID, user.Role)
	} else {
		log.Printf("rental: client connected with unresolved token")
	}

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(conn)
	defer func() {
		hub.remove(peer)
		peer.close()
		peer.wait()
		log.Printf("rental: client disconnected")
	}()

	eng.Connect(func(snapshot domain.State) {
		hub.bind(peer, snapshot)
	})

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			writeWSError(peer, "", string(apperrors.CodeInvalidArgument), "invalid frame payload", nil)
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			writeWSError(peer, frame.RequestID, string(apperrors.CodeInvalidArgument), "payload too large", nil)
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			writeWSError(peer, frame.RequestID, string(apperrors.CodeResourceExhausted), "rate limit exceeded", nil)
			return
		}

		switch frame.Type {
		case frameSystemToggle:
			reportOutcome(peer, frame.RequestID, eng.ToggleSystem(token))
		case frameStationSetOpen:
			handleStationSetOpen(peer, eng, token, frame)
		case frameBikeWithdraw:
			handleBikeFrame(peer, frame, func(stationID, bikeID string) error {
				return eng.Withdraw(token, stationID, bikeID)
			})
		case frameBikeReturn:
			handleBikeFrame(peer, frame, func(stationID, bikeID string) error {
				return eng.Return(token, stationID, bikeID)
			})
		default:
			writeWSError(peer, frame.RequestID, string(apperrors.CodeInvalidArgument), "unsupported frame type", nil)
		}
	}
}

func handleStationSetOpen(peer *wsPeer, eng *engine.Engine, token string, frame wsFrame) {
	var payload stationSetOpenPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		writeWSError(peer, frame.RequestID, string(apperrors.CodeInvalidArgument), "invalid station payload", nil)
		return
	}
	if strings.TrimSpace(payload.StationID) == "" {
		writeWSError(peer, frame.RequestID, string(apperrors.CodeInvalidArgument), "station_id is required", nil)
		return
	}
	reportOutcome(peer, frame.RequestID, eng.SetStationOpen(token, payload.StationID, payload.Open))
}

func handleBikeFrame(peer *wsPeer, frame wsFrame, op func(stationID, bikeID string) error) {
	var payload bikePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		writeWSError(peer, frame.RequestID, string(apperrors.CodeInvalidArgument), "invalid bike payload", nil)
		return
	}
	if strings.TrimSpace(payload.StationID) == "" || strings.TrimSpace(payload.BikeID) == "" {
		writeWSError(peer, frame.RequestID, string(apperrors.CodeInvalidArgument), "station_id and bike_id are required", nil)
		return
	}
	reportOutcome(peer, frame.RequestID, op(payload.StationID, payload.BikeID))
}

// reportOutcome turns an engine failure into an error frame for the
// originating client only. Successes answer through the broadcast; no ack
// frame exists.
func reportOutcome(peer *wsPeer, requestID string, err error) {
	if err == nil {
		return
	}
	writeWSError(peer, requestID, string(apperrors.CodeOf(err)), err.Error(), apperrors.MetadataOf(err))
}

func writeWSError(peer *wsPeer, requestID string, code string, message string, details map[string]string) {
	peer.writeFrame(wsFrame{
		Type:      frameError,
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{
				Code:      code,
				Message:   message,
				Retryable: false,
				Details:   details,
			},
		}),
	})
}
