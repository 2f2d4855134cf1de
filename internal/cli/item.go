package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sisbm/fleetsync/internal/models"
)

// inputBody prompts for the fields of one record of the current collection
// and returns the encoded body. Required fields are enforced here so an
// obviously invalid record never reaches the outbox.
func (a *App) inputBody() (json.RawMessage, error) {
	switch a.current {
	case models.Units:
		return a.inputUnit()
	case models.Aircraft:
		return a.inputAircraft()
	default:
		return a.inputVehicle()
	}
}

func (a *App) inputVehicle() (json.RawMessage, error) {
	prefixo, err := GetSimpleText(a.reader, "Enter prefixo", os.Stdout)
	if err != nil {
		return nil, err
	}
	if prefixo == "" {
		return nil, fmt.Errorf("prefixo is required")
	}
	placa, err := GetSimpleText(a.reader, "Enter placa", os.Stdout)
	if err != nil {
		return nil, err
	}
	modelo, err := GetSimpleText(a.reader, "Enter modelo", os.Stdout)
	if err != nil {
		return nil, err
	}
	tipo, err := GetSimpleText(a.reader, "Enter tipo", os.Stdout)
	if err != nil {
		return nil, err
	}
	return models.EncodeBody(models.Vehicle{Prefixo: prefixo, Placa: placa, Modelo: modelo, Tipo: tipo})
}

func (a *App) inputUnit() (json.RawMessage, error) {
	nome, err := GetSimpleText(a.reader, "Enter nome", os.Stdout)
	if err != nil {
		return nil, err
	}
	if nome == "" {
		return nil, fmt.Errorf("nome is required")
	}
	sigla, err := GetSimpleText(a.reader, "Enter sigla", os.Stdout)
	if err != nil {
		return nil, err
	}
	municipio, err := GetSimpleText(a.reader, "Enter municipio", os.Stdout)
	if err != nil {
		return nil, err
	}
	return models.EncodeBody(models.Unit{Nome: nome, Sigla: sigla, Municipio: municipio})
}

func (a *App) inputAircraft() (json.RawMessage, error) {
	prefixo, err := GetSimpleText(a.reader, "Enter prefixo", os.Stdout)
	if err != nil {
		return nil, err
	}
	if prefixo == "" {
		return nil, fmt.Errorf("prefixo is required")
	}
	modelo, err := GetSimpleText(a.reader, "Enter modelo", os.Stdout)
	if err != nil {
		return nil, err
	}
	tipo, err := GetSimpleText(a.reader, "Enter tipo", os.Stdout)
	if err != nil {
		return nil, err
	}
	return models.EncodeBody(models.AircraftRecord{Prefixo: prefixo, Modelo: modelo, Tipo: tipo})
}

// renderRecord formats one record for the list view. Records awaiting
// server confirmation are marked with '*'.
func renderRecord(c models.Collection, rec models.Record) string {
	mark := " "
	if !rec.Synced {
		mark = "*"
	}

	var detail string
	switch c {
	case models.Units:
		var u models.Unit
		if err := rec.Decode(&u); err == nil {
			detail = fmt.Sprintf("%-10s %-20s %s", u.Sigla, u.Nome, u.Municipio)
		}
	case models.Aircraft:
		var ac models.AircraftRecord
		if err := rec.Decode(&ac); err == nil {
			detail = fmt.Sprintf("%-10s %-20s %s", ac.Prefixo, ac.Modelo, ac.Tipo)
		}
	default:
		var v models.Vehicle
		if err := rec.Decode(&v); err == nil {
			detail = fmt.Sprintf("%-10s %-10s %-20s %s", v.Prefixo, v.Placa, v.Modelo, v.Tipo)
		}
	}

	return fmt.Sprintf("%s %6d  %s", mark, rec.ID, detail)
}
