package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tripallied/tripallied-backend/internal/dispatch"
	"github.com/tripallied/tripallied-backend/internal/models"
	"github.com/tripallied/tripallied-backend/pkg/utils"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

type commandRouter interface {
	route(client *Client, envelope Envelope)
}

// rideFinder locates a user's unfinished rides for room recovery on
// reconnect.
type rideFinder interface {
	NonTerminalForUser(ctx context.Context, userID uint) ([]models.Ride, error)
}

// Gateway owns the realtime command surface: it upgrades connections,
// decodes inbound envelopes, and routes each command into the
// dispatcher or the presence registry.
type Gateway struct {
	hub        *Hub
	dispatcher *dispatch.Dispatcher
	presence   *dispatch.PresenceRegistry
	rides      rideFinder
}

func NewGateway(hub *Hub, dispatcher *dispatch.Dispatcher, presence *dispatch.PresenceRegistry, rides rideFinder) *Gateway {
	gateway := &Gateway{hub: hub, dispatcher: dispatcher, presence: presence, rides: rides}
	hub.OnDisconnect = gateway.handleDisconnect
	return gateway
}

// HandleWebSocket upgrades an authenticated request into a realtime
// session. The client lands in its user room immediately and rejoins
// the rooms of any unfinished rides, so a reconnect resumes mid-ride
// delivery without client bookkeeping.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request, user *models.User) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		ConnectionID: fmt.Sprintf("%d-%d", user.ID, time.Now().UnixNano()),
		User:         user,
		Conn:         conn,
		Send:         make(chan []byte, 256),
		Hub:          g.hub,
	}
	g.hub.register <- client

	go client.writePump()
	go client.readPump(g)

	g.hub.SendToClient(client, "connected", map[string]any{
		"connection_id": client.ConnectionID,
		"user_id":       user.ID,
	})
	g.recoverRideRooms(client)
	if !user.IsCabDriver() {
		g.joinHomeCityRoom(client)
	}
}

// joinHomeCityRoom subscribes a traveler connection to the live driver
// count of their profile city, so the count streams from the first
// frame without a set_city round trip.
func (g *Gateway) joinHomeCityRoom(client *Client) {
	cityKey := utils.NormalizeCityKey(client.User.City)
	if cityKey == "" {
		return
	}
	g.trackCityRoom(client, cityKey)

	count, err := g.presence.OnlineCount(context.Background(), cityKey)
	if err != nil {
		log.Printf("Client %d: online count for %s failed: %v", client.User.ID, cityKey, err)
		return
	}
	g.hub.SendToClient(client, dispatch.NotifyOnlineCount, map[string]any{
		"city_key": cityKey,
		"count":    count,
	})
}

func (g *Gateway) recoverRideRooms(client *Client) {
	ctx := context.Background()
	rides, err := g.rides.NonTerminalForUser(ctx, client.User.ID)
	if err != nil {
		log.Printf("Client %d: ride room recovery failed: %v", client.User.ID, err)
		return
	}
	for _, ride := range rides {
		g.hub.JoinRoom(client, RideRoom(ride.ID))
		if client.User.IsCabDriver() {
			g.hub.SendToClient(client, dispatch.NotifyStatusChanged, map[string]any{"ride": ride.AsDriverJSON()})
		} else {
			g.hub.SendToClient(client, dispatch.NotifyStatusChanged, map[string]any{"ride": ride.AsJSON()})
		}
	}
}

func (g *Gateway) handleDisconnect(client *Client) {
	if !client.User.IsCabDriver() {
		return
	}
	g.presence.HandleDisconnect(context.Background(), client.User.ID, client.ConnectionID)
}

// route dispatches one inbound command. Command failures are reported
// back on the same connection as error envelopes and never close it.
func (g *Gateway) route(client *Client, envelope Envelope) {
	ctx := context.Background()

	var err error
	switch envelope.Type {
	case "request_ride":
		err = g.handleRequestRide(ctx, client, envelope.Data)
	case "accept_request":
		err = g.handleAcceptRequest(ctx, client, envelope.Data)
	case "submit_quote":
		err = g.handleSubmitQuote(ctx, client, envelope.Data)
	case "accept_quote":
		err = g.handleQuoteDecision(ctx, client, envelope.Data, true)
	case "reject_quote":
		err = g.handleQuoteDecision(ctx, client, envelope.Data, false)
	case "location_update":
		err = g.handleLocationUpdate(ctx, client, envelope.Data)
	case "start_ride":
		err = g.handleStartRide(ctx, client, envelope.Data)
	case "end_ride":
		err = g.handleEndRide(ctx, client, envelope.Data)
	case "set_online":
		err = g.handleSetOnline(ctx, client, envelope.Data)
	case "set_city":
		err = g.handleSetCity(ctx, client, envelope.Data)
	default:
		err = dispatch.NewError(dispatch.CodeValidation, fmt.Sprintf("Unknown command type %q.", envelope.Type))
	}
	if err != nil {
		g.sendError(client, err)
	}
}

func (g *Gateway) handleRequestRide(ctx context.Context, client *Client, data json.RawMessage) error {
	var cmd dispatch.RequestRideCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return dispatch.NewError(dispatch.CodeValidation, "Invalid request_ride payload.")
	}
	ride, err := g.dispatcher.RequestRide(ctx, client.User, cmd)
	if err != nil {
		return err
	}
	g.hub.JoinRoom(client, RideRoom(ride.ID))
	return nil
}

type rideRef struct {
	RideID uint `json:"ride_id"`
}

func (g *Gateway) handleAcceptRequest(ctx context.Context, client *Client, data json.RawMessage) error {
	var ref rideRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.RideID == 0 {
		return dispatch.NewError(dispatch.CodeValidation, "ride_id is required.")
	}
	ride, err := g.dispatcher.AcceptRequest(ctx, client.User, ref.RideID)
	if err != nil {
		return err
	}
	g.hub.JoinRoom(client, RideRoom(ride.ID))
	return nil
}

func (g *Gateway) handleSubmitQuote(ctx context.Context, client *Client, data json.RawMessage) error {
	var cmd struct {
		RideID   uint    `json:"ride_id"`
		Price    float64 `json:"price"`
		Currency string  `json:"currency"`
		Note     string  `json:"note"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.RideID == 0 {
		return dispatch.NewError(dispatch.CodeValidation, "ride_id and price are required.")
	}
	_, err := g.dispatcher.SubmitQuote(ctx, client.User, cmd.RideID, cmd.Price, cmd.Currency, cmd.Note)
	return err
}

func (g *Gateway) handleQuoteDecision(ctx context.Context, client *Client, data json.RawMessage, accept bool) error {
	var ref rideRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.RideID == 0 {
		return dispatch.NewError(dispatch.CodeValidation, "ride_id is required.")
	}
	var err error
	if accept {
		_, err = g.dispatcher.AcceptQuote(ctx, client.User, ref.RideID)
	} else {
		_, err = g.dispatcher.RejectQuote(ctx, client.User, ref.RideID)
	}
	return err
}

func (g *Gateway) handleLocationUpdate(ctx context.Context, client *Client, data json.RawMessage) error {
	var cmd struct {
		RideID  uint    `json:"ride_id"`
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
		Address string  `json:"address"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return dispatch.NewError(dispatch.CodeValidation, "Invalid location_update payload.")
	}
	loc := models.Location{Address: cmd.Address, Lat: cmd.Lat, Lng: cmd.Lng}
	_, err := g.dispatcher.UpdateDriverLocation(ctx, client.User, cmd.RideID, loc)
	return err
}

func (g *Gateway) handleStartRide(ctx context.Context, client *Client, data json.RawMessage) error {
	var cmd struct {
		RideID uint   `json:"ride_id"`
		OTP    string `json:"otp"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.RideID == 0 {
		return dispatch.NewError(dispatch.CodeValidation, "ride_id is required.")
	}
	_, err := g.dispatcher.StartRide(ctx, client.User, cmd.RideID, cmd.OTP)
	return err
}

func (g *Gateway) handleEndRide(ctx context.Context, client *Client, data json.RawMessage) error {
	var ref rideRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.RideID == 0 {
		return dispatch.NewError(dispatch.CodeValidation, "ride_id is required.")
	}
	_, err := g.dispatcher.EndRide(ctx, client.User.ID, ref.RideID)
	return err
}

func (g *Gateway) handleSetOnline(ctx context.Context, client *Client, data json.RawMessage) error {
	var cmd dispatch.SetOnlineCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return dispatch.NewError(dispatch.CodeValidation, "Invalid set_online payload.")
	}
	cmd.ConnectionID = client.ConnectionID

	presence, err := g.presence.SetOnline(ctx, client.User, cmd)
	if err != nil {
		return err
	}
	if presence.Online {
		g.trackCityRoom(client, presence.CityKey)
	} else {
		g.trackCityRoom(client, "")
	}
	return nil
}

// handleSetCity moves a driver's presence to another city, or, for a
// traveler, subscribes the connection to that city's live driver count.
func (g *Gateway) handleSetCity(ctx context.Context, client *Client, data json.RawMessage) error {
	var cmd struct {
		City string `json:"city"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return dispatch.NewError(dispatch.CodeValidation, "Invalid set_city payload.")
	}

	if client.User.IsCabDriver() {
		presence, err := g.presence.SetCity(ctx, client.User, cmd.City, client.ConnectionID)
		if err != nil {
			return err
		}
		g.trackCityRoom(client, presence.CityKey)
		return nil
	}

	cityKey := utils.NormalizeCityKey(cmd.City)
	if cityKey == "" {
		return dispatch.NewError(dispatch.CodeValidation, "city is required.")
	}
	g.trackCityRoom(client, cityKey)

	count, err := g.presence.OnlineCount(ctx, cityKey)
	if err != nil {
		return err
	}
	g.hub.SendToClient(client, dispatch.NotifyOnlineCount, map[string]any{
		"city_key": cityKey,
		"count":    count,
	})
	return nil
}

// trackCityRoom keeps the connection in at most one city presence room.
// An empty key leaves the current room without joining another.
func (g *Gateway) trackCityRoom(client *Client, cityKey string) {
	next := ""
	if cityKey != "" {
		next = CityRoom(cityKey)
	}
	if client.cityRoom != "" && client.cityRoom != next {
		g.hub.LeaveRoom(client, client.cityRoom)
	}
	if next != "" {
		g.hub.JoinRoom(client, next)
	}
	client.cityRoom = next
}

func (g *Gateway) sendError(client *Client, err error) {
	dispatchErr := dispatch.AsError(err)
	payload := map[string]any{
		"code":    dispatchErr.Code,
		"message": dispatchErr.Message,
	}
	if dispatchErr.Ride != nil {
		if client.User.IsCabDriver() {
			payload["ride"] = dispatchErr.Ride.AsDriverJSON()
		} else {
			payload["ride"] = dispatchErr.Ride.AsJSON()
		}
	}
	g.hub.SendToClient(client, "error", payload)
	log.Printf("Client %d: command failed: %s (%s)", client.User.ID, dispatchErr.Message, dispatchErr.Code)
}
