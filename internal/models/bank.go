package models

type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}
