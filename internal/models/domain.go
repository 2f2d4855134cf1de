package models

// Typed views of the synchronized collections, used by the REPL and by
// callers that prefer structs over raw bodies. The JSON tags follow the
// server contract; `id` is omitted when unset so create bodies carry no id.

// Vehicle is a fleet vehicle (viatura).
type Vehicle struct {
	ID      int64  `json:"id,omitempty"`
	Prefixo string `json:"prefixo"`
	Placa   string `json:"placa,omitempty"`
	Modelo  string `json:"modelo,omitempty"`
	Tipo    string `json:"tipo,omitempty"`
	UnitID  int64  `json:"obm_id,omitempty"`
}

// Unit is an organizational unit (OBM).
type Unit struct {
	ID        int64  `json:"id,omitempty"`
	Nome      string `json:"nome"`
	Sigla     string `json:"sigla,omitempty"`
	Municipio string `json:"municipio,omitempty"`
}

// AircraftRecord is one aircraft (aeronave).
type AircraftRecord struct {
	ID      int64  `json:"id,omitempty"`
	Prefixo string `json:"prefixo"`
	Modelo  string `json:"modelo,omitempty"`
	Tipo    string `json:"tipo,omitempty"`
}
