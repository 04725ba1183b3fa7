package api

func (s *Server) registerRoutes() {
	s.echo.GET("/api/health", s.getHealth)
	s.echo.POST("/api/login", s.login)

	api := s.echo.Group("/api", s.authMiddleware())

	api.POST("/automate", s.startAutomation)
	api.POST("/automate/cancel", s.cancelAutomation)
	api.POST("/automate/skip", s.skipSource)

	api.GET("/status", s.getStatus)

	api.GET("/history", s.listHistory)
	api.GET("/history/stats", s.getHistoryStats)
	api.GET("/history/export", s.exportHistory)
	api.POST("/history/import", s.importHistory)
	api.DELETE("/history", s.clearHistory)

	api.GET("/profiles", s.listProfiles)
	api.GET("/profiles/:name", s.getProfile)
	api.PUT("/profiles/:name", s.saveProfile)
	api.POST("/profiles/:name/apply", s.applyProfile)
	api.DELETE("/profiles/:name", s.deleteProfile)

	api.GET("/duplicates", s.listDuplicates)
	api.POST("/merge", s.mergeScenes)

	api.POST("/batch", s.startBatch)
	api.GET("/batch/sweeps", s.listSweeps)

	api.GET("/shortcuts", s.getShortcuts)
	api.POST("/confirm/:id", s.resolveConfirmation)

	s.echo.GET("/ws", s.handleWebSocket, s.authMiddleware())
}
