package controlplane

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")

	s.router.HandleFunc("/roots", s.handleListRoots).Methods("GET")
	s.router.HandleFunc("/roots", s.handleCreateRoot).Methods("POST")
	s.router.HandleFunc("/roots/{id}", s.handleDeleteRoot).Methods("DELETE")
	s.router.HandleFunc("/roots/{id}/scan", s.handleScanRoot).Methods("POST")

	s.router.HandleFunc("/excludes", s.handleListExcludes).Methods("GET")
	s.router.HandleFunc("/excludes", s.handleCreateExclude).Methods("POST")
	s.router.HandleFunc("/excludes/{id}", s.handleDeleteExclude).Methods("DELETE")

	s.router.HandleFunc("/servers", s.handleListServers).Methods("GET")
	s.router.HandleFunc("/servers", s.handleCreateServer).Methods("POST")
	s.router.HandleFunc("/servers/{id}", s.handleDeleteServer).Methods("DELETE")
	s.router.HandleFunc("/servers/{id}/default", s.handleSetDefaultServer).Methods("POST")

	s.router.HandleFunc("/files", s.handleListFiles).Methods("GET")
	s.router.HandleFunc("/files/{id}", s.handleGetFile).Methods("GET")

	s.router.HandleFunc("/uploads/trigger", s.handleTriggerUploads).Methods("POST")

	s.router.HandleFunc("/activity", s.handleListActivity).Methods("GET")
	s.router.HandleFunc("/activity/stream", s.handleActivityStream).Methods("GET")

	s.router.HandleFunc("/scan_all", s.handleScanAll).Methods("POST")
}
