// Command license-admin is an interactive operator console for the
// entitlement server's admin API. It mints its own bearer token from the
// shared JWT secret, so it works against any environment it has the
// secret for.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"poscore/internal/middleware"
)

type console struct {
	baseURL string
	token   string
	client  *http.Client
	reader  *bufio.Reader
}

func main() {
	baseURL := envOr("POSCORE_ADMIN_URL", "http://localhost:8080")
	secret := os.Getenv("POSCORE_AUTH_JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "POSCORE_AUTH_JWT_SECRET is required")
		os.Exit(1)
	}
	adminID := envOr("POSCORE_ADMIN_ID", "license-admin-cli")

	token, err := middleware.NewAdminToken(secret, adminID, time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint admin token: %v\n", err)
		os.Exit(1)
	}

	c := &console{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		reader:  bufio.NewReader(os.Stdin),
	}

	fmt.Println("========================================")
	fmt.Println(" Entitlement Administration Console")
	fmt.Printf(" Server: %s\n", c.baseURL)
	fmt.Println("========================================")

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Register client instance")
		fmt.Println("  2. Issue license")
		fmt.Println("  3. List licenses")
		fmt.Println("  4. Revoke license")
		fmt.Println("  5. Purchase credits")
		fmt.Println("  6. Billing summary")
		fmt.Println("  7. Export billing workbook")
		fmt.Println("  8. Expire stale trials")
		fmt.Println("  9. Exit")
		fmt.Print("\nSelect option: ")

		switch c.readLine() {
		case "1":
			c.registerClient()
		case "2":
			c.issueLicense()
		case "3":
			c.listLicenses()
		case "4":
			c.revokeLicense()
		case "5":
			c.purchaseCredits()
		case "6":
			c.billingSummary()
		case "7":
			c.exportBilling()
		case "8":
			c.expireTrials()
		case "9":
			fmt.Println("Goodbye!")
			return
		default:
			fmt.Println("Invalid option")
		}
	}
}

func (c *console) registerClient() {
	fmt.Print("Client name: ")
	name := c.readLine()
	c.postJSON("/api/v1/admin/clients", map[string]any{"name": name})
}

func (c *console) issueLicense() {
	fmt.Print("Client instance ID: ")
	clientID := c.readLine()
	fmt.Print("License type (standard/pro): ")
	licType := c.readLine()
	fmt.Print("Duration months: ")
	months := c.readInt(12)
	fmt.Print("Max credits: ")
	credits := c.readInt(500)
	fmt.Print("Max activations: ")
	activations := c.readInt(3)

	c.postJSON("/api/v1/admin/licenses", map[string]any{
		"client_instance_id": clientID,
		"license_type":       licType,
		"duration_months":    months,
		"max_credits":        credits,
		"max_activations":    activations,
	})
}

func (c *console) listLicenses() {
	c.get("/api/v1/admin/licenses")
}

func (c *console) revokeLicense() {
	fmt.Print("License ID: ")
	licenseID := c.readLine()
	fmt.Print("Reason: ")
	reason := c.readLine()
	c.postJSON("/api/v1/admin/licenses/"+licenseID+"/revoke", map[string]any{"reason": reason})
}

func (c *console) purchaseCredits() {
	fmt.Print("License ID: ")
	licenseID := c.readLine()
	fmt.Print("Pack name: ")
	pack := c.readLine()
	fmt.Print("Amount: ")
	amount := c.readInt(100)
	fmt.Print("Reference ID (invoice number): ")
	ref := c.readLine()

	c.postJSON("/api/v1/admin/licenses/"+licenseID+"/purchase", map[string]any{
		"pack":         pack,
		"amount":       amount,
		"reference_id": ref,
	})
}

func (c *console) billingSummary() {
	fmt.Print("Client instance ID: ")
	clientID := c.readLine()
	c.get("/api/v1/admin/clients/" + clientID + "/billing")
}

func (c *console) exportBilling() {
	fmt.Print("Client instance ID: ")
	clientID := c.readLine()

	resp, err := c.do(http.MethodGet, "/api/v1/admin/clients/"+clientID+"/billing/export", nil)
	if err != nil {
		fmt.Printf("request failed: %v\n", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.printBody(resp.Body)
		return
	}

	filename := fmt.Sprintf("billing_%s_%s.xlsx", clientID, time.Now().Format("20060102_150405"))
	f, err := os.Create(filename)
	if err != nil {
		fmt.Printf("create file: %v\n", err)
		return
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		fmt.Printf("write file: %v\n", err)
		return
	}
	fmt.Printf("Saved to: %s\n", filename)
}

func (c *console) expireTrials() {
	fmt.Print("Expire trials older than (days): ")
	days := c.readInt(30)
	c.postJSON("/api/v1/admin/trials/expire", map[string]any{"max_age_days": days})
}

func (c *console) get(path string) {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		fmt.Printf("request failed: %v\n", err)
		return
	}
	defer resp.Body.Close()
	c.printBody(resp.Body)
}

func (c *console) postJSON(path string, payload map[string]any) {
	body, _ := json.Marshal(payload)
	resp, err := c.do(http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		fmt.Printf("request failed: %v\n", err)
		return
	}
	defer resp.Body.Close()
	c.printBody(resp.Body)
}

func (c *console) do(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.client.Do(req)
}

func (c *console) printBody(r io.Reader) {
	raw, err := io.ReadAll(r)
	if err != nil {
		fmt.Printf("read response: %v\n", err)
		return
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
		return
	}
	fmt.Println(string(raw))
}

func (c *console) readLine() string {
	line, _ := c.reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func (c *console) readInt(fallback int) int {
	n, err := strconv.Atoi(c.readLine())
	if err != nil {
		fmt.Printf("using default %d\n", fallback)
		return fallback
	}
	return n
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
