package api

import (
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, s *Server) {
	// The browser UI is a different origin than this localhost bridge.
	router.Use(CORSMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.GET("/ping", s.Ping)
		api.GET("/devices", s.Devices)
		api.GET("/tracked-devices", s.TrackedDevices)
		api.POST("/shell", s.Shell)

		api.GET("/check-connection", s.CheckConnection)
		api.POST("/connect", s.Connect)
		api.POST("/disconnect", s.Disconnect)

		api.GET("/packages", s.ListPackages)
		api.POST("/package", s.SelectPackage)
		api.GET("/databases", s.ListDatabases)
		api.GET("/search-databases", s.SearchDatabases)
		api.POST("/database", s.SelectDatabase)

		api.GET("/tables", s.Tables)
		api.GET("/table-structure/:table", s.TableStructure)
		api.GET("/table-data/:table", s.TableData)
		api.POST("/query", s.Query)

		api.GET("/preferences", s.GetPreferences)
		api.POST("/preferences", s.UpdatePreferences)

		api.POST("/clear-cache", s.ClearCache)
		api.POST("/refresh-database", s.RefreshDatabase)
	}

	router.GET("/ws", func(c *gin.Context) {
		HandleWebSocket(s.Hub, c)
	})
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
