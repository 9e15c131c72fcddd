package api

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.GrabberInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	// session and queue state, read-only
	s.router.GET("/status", s.statusHandler.GetStatus)

	// websocket subscribers join the same registry as protocol clients
	s.router.GET("/ws/frames", s.framesHandler.Subscribe)

	system := s.router.Group("/system")
	system.GET("/stats", s.systemHandler.GetStats)
	system.GET("/protocol", s.systemHandler.GetProtocol)
}
