package handlers

import (
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Shape    string `json:"shape"`
	Storage  string `json:"storage"`
	Queue    bool   `json:"queue"`
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Queue: a.Queue != nil}
	if a.Config != nil {
		resp.Provider = a.Config.ModelProvider
		resp.Shape = a.Config.AnalysisShape
		if a.Storage != nil {
			resp.Storage = a.Config.StorageDriver
		}
	}
	a.json(w, http.StatusOK, resp)
}
