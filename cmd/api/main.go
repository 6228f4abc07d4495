package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/tripallied/tripallied-backend/internal/database"
	"github.com/tripallied/tripallied-backend/internal/dispatch"
	"github.com/tripallied/tripallied-backend/internal/handlers"
	"github.com/tripallied/tripallied-backend/internal/middleware"
	"github.com/tripallied/tripallied-backend/internal/services"
	"github.com/tripallied/tripallied-backend/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	db, err := database.InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := services.InitRedis(); err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}

	// Firebase is optional, push is skipped when unconfigured
	if err := services.InitFirebase(); err != nil {
		log.Printf("Firebase initialization warning: %v", err)
	}

	rides := store.NewRideStore(db)
	presence := store.NewPresenceStore(db)
	users := store.NewUserStore(db)

	hub := services.NewHub()
	go hub.Run()

	geocoder := services.NewGeocodeService(services.NewGeocodeCache(services.RedisClient))
	scheduler := dispatch.NewScheduler()

	dispatcher := dispatch.NewDispatcher(rides, presence, users, scheduler, hub, geocoder).
		WithLocationCache(services.NewDriverLocationCache(services.RedisClient)).
		WithPushSender(services.NewPushService(users))

	presenceRegistry := dispatch.NewPresenceRegistry(presence, hub, geocoder)
	gateway := services.NewGateway(hub, dispatcher, presenceRegistry, rides)

	r := gin.Default()

	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(config))

	api := r.Group("/api")
	{
		// Public routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", handlers.Register(db))
			auth.POST("/login", handlers.Login(db))
		}

		// WebSocket connection
		api.GET("/ws", middleware.AuthMiddleware(), handlers.HandleWebSocket(db, gateway))

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware())
		{
			userRoutes := protected.Group("/users")
			{
				userRoutes.GET("/profile", handlers.GetProfile(db))
				userRoutes.PUT("/profile", handlers.UpdateProfile(db))
				userRoutes.POST("/device-token", handlers.RegisterDeviceToken(users))
			}

			rideRoutes := protected.Group("/rides")
			{
				rideRoutes.GET("", handlers.GetMyRides(db, rides))
				rideRoutes.GET("/driver", handlers.GetDriverRides(db, rides))
				rideRoutes.POST("/geocode", handlers.GeocodeRoute(db, dispatcher))
				rideRoutes.POST("/geocode/suggest", handlers.GeocodeSuggest(db, geocoder))
				rideRoutes.GET("/:rideId", handlers.GetRide(db, dispatcher))
				rideRoutes.POST("/:rideId/end", handlers.EndRide(dispatcher))
				rideRoutes.POST("/:rideId/rating", handlers.RateRide(dispatcher))
				rideRoutes.GET("/:rideId/events", handlers.GetRideEvents(db, dispatcher, rides))
			}
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Listening on :%s", port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down")

	// Pending offer timers are cancelled; rides left in REQUESTED or
	// QUOTE_SENT are re-expired lazily after restart.
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
