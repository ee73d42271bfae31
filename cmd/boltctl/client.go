package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// deviceView mirrors ipc's JSON encoding of bolt.DeviceView, kept local so
// boltctl has no compile-time dependency on the daemon's internal packages.
type deviceView struct {
	UID        string `json:"UID"`
	ObjectPath string `json:"ObjectPath"`
	Name       string `json:"Name"`
	Vendor     string `json:"Vendor"`
	Status     int    `json:"Status"`
	Policy     int    `json:"Policy"`
	Stored     bool   `json:"Stored"`
	ParentUID  string `json:"ParentUID"`
}

var statusNames = []string{"disconnected", "connected", "auth-error", "authorized", "authorized-secure"}
var policyNames = []string{"default", "manual", "auto"}

func (d deviceView) statusName() string {
	if d.Status < 0 || d.Status >= len(statusNames) {
		return "unknown"
	}
	return statusNames[d.Status]
}

func (d deviceView) policyName() string {
	if d.Policy < 0 || d.Policy >= len(policyNames) {
		return "unknown"
	}
	return policyNames[d.Policy]
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

func (c *apiClient) listDevices() ([]deviceView, error) {
	resp, err := c.http.Get(c.baseURL + "/devices")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("boltd returned %s", resp.Status)
	}

	var devices []deviceView
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		return nil, fmt.Errorf("decoding device list: %w", err)
	}
	return devices, nil
}

func (c *apiClient) enroll(uid, policy string) error {
	body, _ := json.Marshal(map[string]string{"policy": policy})
	resp, err := c.http.Post(c.baseURL+"/devices/"+uid+"/enroll", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *apiClient) forget(uid string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/devices/"+uid, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}
	msg, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("boltd returned %s: %s", resp.Status, string(msg))
}
