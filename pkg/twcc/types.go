package twcc

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ID is a TWCC resource identifier. The API sends numbers; ids are kept as
// strings because they end up as JSON object keys in the report.
type ID string

func (id ID) String() string {
	return string(id)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or a string: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Type definitions of data transfer objects (DTO) from the TWCC API
type DtoProject struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

type DtoUser struct {
	ID          ID     `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type DtoSite struct {
	ID         ID      `json:"id"`
	Name       string  `json:"name"`
	CreateTime string  `json:"create_time"`
	User       DtoUser `json:"user"`
	Status     string  `json:"status"`
}

func (s DtoSite) IsReady() bool {
	return s.Status == ReadyStatus
}

type DtoContainerDetail struct {
	Service []DtoService `json:"Service"`
	Pod     []DtoPod     `json:"Pod"`
}

type DtoService struct {
	PublicIP []string  `json:"public_ip"`
	Ports    []DtoPort `json:"ports"`
}

type DtoPort struct {
	Port       int `json:"port"`
	TargetPort int `json:"target_port"`
}

type DtoPod struct {
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	Flavor    string         `json:"flavor"`
	Container []DtoContainer `json:"container"`
}

type DtoContainer struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// Pod is the pod backing a site together with its network endpoint.
type Pod struct {
	Name      string
	Status    string
	Flavor    string
	PublicIP  string
	SSHPort   int // 0 when no service port targets 22
	Container DtoContainer
}
