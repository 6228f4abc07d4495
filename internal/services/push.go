package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/tripallied/tripallied-backend/internal/models"
)

var (
	// FirebaseApp is the Firebase app instance
	FirebaseApp *firebase.App
	// MessagingClient is the Firebase Cloud Messaging client
	MessagingClient *messaging.Client
)

// InitFirebase initializes Firebase Admin SDK
func InitFirebase() error {
	ctx := context.Background()

	serviceAccountPath := os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH")
	if serviceAccountPath == "" {
		log.Println("Warning: FIREBASE_SERVICE_ACCOUNT_PATH not set. Push notifications will be disabled.")
		return nil
	}

	opt := option.WithCredentialsFile(serviceAccountPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return fmt.Errorf("error initializing firebase app: %v", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return fmt.Errorf("error getting messaging client: %v", err)
	}

	FirebaseApp = app
	MessagingClient = client

	log.Println("Firebase Cloud Messaging initialized successfully")
	return nil
}

// deviceTokenResolver maps a user id to their registered FCM token.
type deviceTokenResolver interface {
	DeviceToken(ctx context.Context, userID uint) (string, error)
}

// PushService nudges backgrounded driver apps about new ride requests.
// The realtime gateway remains the source of truth; push is a
// best-effort wake-up signal.
type PushService struct {
	client *messaging.Client
	tokens deviceTokenResolver
}

func NewPushService(tokens deviceTokenResolver) *PushService {
	return &PushService{client: MessagingClient, tokens: tokens}
}

// PushRideRequested sends the new-request nudge to one driver.
func (s *PushService) PushRideRequested(ctx context.Context, driverID uint, ride *models.Ride) {
	if s.client == nil {
		return
	}
	token, err := s.tokens.DeviceToken(ctx, driverID)
	if err != nil || token == "" {
		return
	}

	source := ride.Source()
	payload := NotificationPayload{
		Title: "New Ride Request",
		Body:  fmt.Sprintf("%s requested a ride from %s", ride.TravelerName, source.Address),
		Data: map[string]interface{}{
			"type":           "ride_request",
			"rideId":         ride.ID,
			"city":           ride.City,
			"notificationId": fmt.Sprintf("ride_request_%d", ride.ID),
		},
	}
	if err := s.sendToToken(ctx, token, payload); err != nil {
		log.Printf("driver %d: ride request push failed: %v", driverID, err)
	}
}

// NotificationPayload represents the notification data
type NotificationPayload struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
	Sound string                 `json:"sound,omitempty"`
}

func (s *PushService) sendToToken(ctx context.Context, token string, payload NotificationPayload) error {
	// FCM requires the data map to be string valued.
	dataStrings := make(map[string]string)
	for key, value := range payload.Data {
		switch v := value.(type) {
		case string:
			dataStrings[key] = v
		case int, int64, uint, float64, bool:
			dataStrings[key] = fmt.Sprintf("%v", v)
		default:
			jsonData, err := json.Marshal(v)
			if err != nil {
				log.Printf("Error marshaling data for key %s: %v", key, err)
				continue
			}
			dataStrings[key] = string(jsonData)
		}
	}

	sound := payload.Sound
	if sound == "" {
		sound = "default"
	}

	message := &messaging.Message{
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
		Data:  dataStrings,
		Token: token,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:        sound,
				ChannelID:    "tripallied_dispatch",
				Priority:     messaging.PriorityHigh,
				DefaultSound: sound == "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound:            sound,
					MutableContent:   true,
					ContentAvailable: true,
				},
			},
		},
	}

	_, err := s.client.Send(ctx, message)
	return err
}
