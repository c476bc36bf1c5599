// Package models defines the data structures used for API requests and database persistence.
package models

import (
	"encoding/json"
	"time"
)

// Settings is an arbitrary JSON object attached to rooms, parties, sessions and players.
type Settings map[string]any

// ServerStatus is the derived health status of a game server.
type ServerStatus string

// Server statuses
const (
	StatusActive   ServerStatus = "active"
	StatusFailed   ServerStatus = "failed"
	StatusOverload ServerStatus = "overload"
)

// Server represents a game server node of the fleet.
type Server struct {
	LastHeartbeat    *time.Time   `json:"last_heartbeat,omitempty"`
	Name             string       `json:"name"`
	Location         string       `json:"location"`
	Host             string       `json:"host"`
	Status           ServerStatus `json:"status"`
	LastFailureTrace string       `json:"last_failure_tb,omitempty"`
	ID               int64        `json:"id"`
	GeoLocationID    int64        `json:"geo_location_id"`
	CPULoad          float64      `json:"cpu_load"`
	RAMUsage         float64      `json:"ram_usage"`
	Port             int          `json:"port"`
	Enabled          bool         `json:"enabled"`
}

// Active reports whether the server may be selected for placement.
func (s *Server) Active() bool {
	return s.Enabled && s.Status == StatusActive
}

// Load is the combined load used to rank servers.
func (s *Server) Load() float64 {
	return s.CPULoad + s.RAMUsage
}

// GeoLocationRegion is a named group of locations.
type GeoLocationRegion struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
}

// GeoLocation is a point (WGS84) belonging to a region.
type GeoLocation struct {
	ID        int64   `json:"id"`
	RegionID  int64   `json:"region_id"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Default   bool    `json:"default"`
}

// ApplicationVersion identifies a build of a game application.
type ApplicationVersion struct {
	Application string `json:"application"`
	Version     string `json:"version"`
	ID          int64  `json:"id"`
}

// Deployment is an uploaded build artifact of an application version.
type Deployment struct {
	File         string `json:"file"`
	ID           int64  `json:"id"`
	AppVersionID int64  `json:"app_version_id"`
}

// Room is a bounded set of players hosted on one server.
type Room struct {
	CreatedAt       time.Time `json:"created_at"`
	Settings        Settings  `json:"settings"`
	Handle          string    `json:"handle,omitempty"`
	ID              int64     `json:"id"`
	ServerID        int64     `json:"server_id"`
	AppVersionID    int64     `json:"app_version_id"`
	MaxPlayersCount int       `json:"max_players_count"`
}

// RoomFilter selects rooms by exact match. Zero fields are ignored.
type RoomFilter struct {
	Spawned      *bool `json:"spawned,omitempty"`
	ServerID     int64 `json:"server_id,omitempty"`
	AppVersionID int64 `json:"app_version_id,omitempty"`
}

// PlayerStatus is the room membership state of a player.
type PlayerStatus string

// Player statuses
const (
	PlayerNew    PlayerStatus = "new"
	PlayerJoined PlayerStatus = "joined"
)

// Player is a user entering the game through a room.
type Player struct {
	RoomID    *int64       `json:"room_id,omitempty"`
	Payload   Settings     `json:"payload"`
	Status    PlayerStatus `json:"status"`
	IPAddress string       `json:"ip_address,omitempty"`
	ID        int64        `json:"id"`
	UserID    int64        `json:"user_id"`
}

// PartyStatus is the lifecycle state of a party. Values only move forward.
type PartyStatus int

// Party statuses
const (
	PartyCreated PartyStatus = iota + 1
	PartyStarting
	PartyStarted
)

var partyStatusNames = map[PartyStatus]string{
	PartyCreated:  "created",
	PartyStarting: "starting",
	PartyStarted:  "started",
}

func (s PartyStatus) String() string {
	if name, ok := partyStatusNames[s]; ok {
		return name
	}

	return "unknown"
}

// MarshalJSON encodes the status by name.
func (s PartyStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Party is a group of sessions that enter a game together.
// Placing is set while a start holds the party, it stays created until placement completes.
type Party struct {
	CreatedAt       time.Time   `json:"created_at"`
	RoomID          *int64      `json:"room_id,omitempty"`
	Settings        Settings    `json:"settings"`
	ID              int64       `json:"id"`
	Status          PartyStatus `json:"status"`
	MaxMembersCount int         `json:"max_members_count"`
	Placing         bool        `json:"placing,omitempty"`
}

// Role is the authorization level of a party session.
// Its value is compared against Permission thresholds.
type Role int

// Roles
const (
	RoleUser  Role = 0
	RoleAdmin Role = 1000
)

// Permission is the minimal role value required for an action.
type Permission int

// Permissions
const (
	PermUser     Permission = 0
	PermCanStart Permission = 500
	PermAdmin    Permission = 1000
	PermCanClose            = PermAdmin
)

// PartySession is the participation of one user in a party.
type PartySession struct {
	CreatedAt    time.Time `json:"created_at"`
	Settings     Settings  `json:"settings"`
	IPAddress    string    `json:"ip_address,omitempty"`
	ID           int64     `json:"id"`
	PartyID      int64     `json:"party_id"`
	UserID       int64     `json:"user_id"`
	AppVersionID int64     `json:"app_version_id"`
	Role         Role      `json:"role"`
}

// HasPermission reports whether the session role reaches the permission threshold.
func (s *PartySession) HasPermission(perm Permission) bool {
	return int(s.Role) >= int(perm)
}

// HeartbeatRequest is the payload a game server posts to report its health.
// Error set means the report is a failure signal.
type HeartbeatRequest struct {
	Server    string  `json:"server"`
	Error     string  `json:"error,omitempty"`
	Traceback string  `json:"traceback,omitempty"`
	CPULoad   float64 `json:"cpu_load"`
	RAMUsage  float64 `json:"ram_usage"`
}
