// Пакет netaddr — проверка принадлежности адресов локальной сети
// и определение LAN-адреса машины.
//
// Используется двумя потребителями:
//   - token: валидация host в connection-токене до любого сетевого вызова
//   - localsrv: фильтрация входящих подключений локального сервера
package netaddr

import (
	"fmt"
	"net"
	"strings"
)

// privateNets — диапазоны частных сетей (RFC 1918) + loopback.
var privateNets = []net.IPNet{
	mustParseCIDR("127.0.0.0/8"),
	mustParseCIDR("10.0.0.0/8"),
	mustParseCIDR("172.16.0.0/12"),
	mustParseCIDR("192.168.0.0/16"),
}

func mustParseCIDR(s string) net.IPNet {
	_, ipNet, err := net.ParseCIDR(s)
	if err != nil {
		panic(fmt.Sprintf("netaddr: некорректный CIDR %q: %v", s, err))
	}
	return *ipNet
}

// IsPrivate проверяет, является ли host адресом локальной сети:
// loopback (127.0.0.0/8, ::1), RFC 1918 или имя "localhost".
// Непарсящийся host считается непрошедшим проверку.
func IsPrivate(host string) bool {
	if host == "localhost" {
		return true
	}

	// IPv6-mapped IPv4 адреса приходят в форме ::ffff:192.168.1.5
	host = strings.TrimPrefix(host, "::ffff:")

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}

	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	for _, n := range privateNets {
		if n.Contains(v4) {
			return true
		}
	}
	return false
}

// RemoteHost извлекает host из RemoteAddr HTTP-запроса ("ip:port").
// Адрес без порта возвращается как есть.
func RemoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// InterfaceAddr — адрес сетевого интерфейса машины.
type InterfaceAddr struct {
	// Name — имя интерфейса (eth0, wlan0, ...)
	Name string `json:"name"`
	// Address — IPv4 адрес
	Address string `json:"address"`
}

// LocalAddrs возвращает все non-loopback IPv4 адреса машины.
func LocalAddrs() ([]InterfaceAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("ошибка перечисления интерфейсов: %w", err)
	}

	var result []InterfaceAddr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			v4 := ipNet.IP.To4()
			if v4 == nil || v4.IsLoopback() {
				continue
			}
			result = append(result, InterfaceAddr{
				Name:    iface.Name,
				Address: v4.String(),
			})
		}
	}
	return result, nil
}

// LocalIP возвращает LAN-адрес машины для connection-токена.
// Приоритет: первый non-loopback IPv4 из частного диапазона,
// затем любой non-loopback IPv4, затем "localhost".
func LocalIP() string {
	addrs, err := LocalAddrs()
	if err != nil || len(addrs) == 0 {
		return "localhost"
	}
	for _, a := range addrs {
		if IsPrivate(a.Address) {
			return a.Address
		}
	}
	return addrs[0].Address
}
